package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCheckoutSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "subscription", r.PostForm.Get("mode"))
		assert.Equal(t, "cus_123", r.PostForm.Get("customer"))
		assert.Equal(t, "price_abc", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "7", r.PostForm.Get("subscription_data[trial_period_days]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_1","url":"https://pay.example.com/cs_1"}`))
	}))
	defer srv.Close()

	client := NewProviderClient(srv.URL, "sk_test")
	session, err := client.CreateCheckoutSession(context.Background(), "cus_123", "price_abc",
		"https://app.example.com/ok", "https://app.example.com/cancel", "org-1", 7)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.ID)
	assert.Equal(t, "https://pay.example.com/cs_1", session.URL)
}

func TestProviderErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"card declined"}}`))
	}))
	defer srv.Close()

	client := NewProviderClient(srv.URL, "sk_test")
	_, err := client.CreateCustomer(context.Background(), "a@b.com", "Acme", "org-1")
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusPaymentRequired, provErr.StatusCode)
	assert.Equal(t, "card declined", provErr.Message)
}

func TestCancelSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/sub_1", r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "true", r.PostForm.Get("cancel_at_period_end"))
			_, _ = w.Write([]byte(`{"id":"sub_1","status":"active","cancel_at_period_end":true}`))
		case http.MethodDelete:
			_, _ = w.Write([]byte(`{"id":"sub_1","status":"canceled"}`))
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))
	defer srv.Close()

	client := NewProviderClient(srv.URL, "sk_test")

	atEnd, err := client.CancelSubscription(context.Background(), "sub_1", true)
	require.NoError(t, err)
	assert.True(t, atEnd.CancelAtPeriodEnd)
	assert.Equal(t, "active", atEnd.Status)

	immediate, err := client.CancelSubscription(context.Background(), "sub_1", false)
	require.NoError(t, err)
	assert.Equal(t, "canceled", immediate.Status)
}

func TestProviderSubscriptionPriceID(t *testing.T) {
	var s ProviderSubscription
	assert.Empty(t, s.PriceID())

	s.Items.Data = []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	}{{}}
	s.Items.Data[0].Price.ID = "price_x"
	assert.Equal(t, "price_x", s.PriceID())
}
