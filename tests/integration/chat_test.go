//go:build integration

package integration

import (
	"net/http"
	"testing"
)

const adminAPIKey = "integration-test-key"

func startSession(t *testing.T, phone, name string) chatSessionResponse {
	t.Helper()

	resp := doPost(t, "/api/chat/sessions", map[string]string{
		"phoneNumber": phone,
		"name":        name,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		errResp := decodeJSON[errorResponse](t, resp)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, errResp.Message)
	}

	return decodeJSON[chatSessionResponse](t, resp)
}

func TestChat_GuestSession(t *testing.T) {
	session := startSession(t, nextPhone(), "Robin")

	if session.Status != "open" {
		t.Errorf("status: got %q, want open", session.Status)
	}
	if !session.StartedAsGuest {
		t.Error("expected guest session")
	}
	if session.Name != "Robin" {
		t.Errorf("name: got %q, want Robin", session.Name)
	}
}

func TestChat_GuestRequiresName(t *testing.T) {
	resp := doPost(t, "/api/chat/sessions", map[string]string{
		"phoneNumber": nextPhone(),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestChat_LinksLatestOrder(t *testing.T) {
	phone := nextPhone()
	placed := placeOrder(t, phone, "", orderItemRequest{ProductID: baklavaID, Quantity: 1})

	session := startSession(t, phone, "")

	if session.OrderNumber != placed.OrderNumber {
		t.Errorf("orderNumber: got %q, want %q", session.OrderNumber, placed.OrderNumber)
	}
	if session.StartedAsGuest {
		t.Error("expected non-guest session when an order exists")
	}
}

func TestChat_PostMessageAndClose(t *testing.T) {
	session := startSession(t, nextPhone(), "Sam")

	resp := doPost(t, "/api/chat/sessions/"+session.ID+"/messages", map[string]string{
		"text": "  where   is my order?  ",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	updated := decodeJSON[chatSessionResponse](t, resp)
	if len(updated.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(updated.Messages))
	}
	if updated.Messages[0].Text != "where is my order?" {
		t.Errorf("message text: got %q, want collapsed whitespace", updated.Messages[0].Text)
	}
	if updated.Messages[0].Sender != "customer" {
		t.Errorf("sender: got %q, want customer", updated.Messages[0].Sender)
	}

	closeResp := doPost(t, "/api/chat/sessions/"+session.ID+"/close", map[string]string{"by": "Sam"})
	defer closeResp.Body.Close()

	if closeResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on close, got %d", closeResp.StatusCode)
	}

	closed := decodeJSON[chatSessionResponse](t, closeResp)
	if closed.Status != "closed" {
		t.Errorf("status: got %q, want closed", closed.Status)
	}
}

func TestChat_AdminListRequiresKey(t *testing.T) {
	resp := doGet(t, "/api/admin/chat/sessions")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestChat_AdminClose(t *testing.T) {
	session := startSession(t, nextPhone(), "Kit")

	resp := doPostWithKey(t, "/api/admin/chat/sessions/"+session.ID+"/close", nil, adminAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	closed := decodeJSON[chatSessionResponse](t, resp)
	if closed.Status != "closed" {
		t.Errorf("status: got %q, want closed", closed.Status)
	}
}
