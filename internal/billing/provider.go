package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ProviderClient talks to the billing provider's REST API. The API is
// form-encoded with bearer auth; only the handful of calls this service
// needs are implemented.
type ProviderClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewProviderClient creates a billing provider client.
func NewProviderClient(baseURL, secretKey string) *ProviderClient {
	return &ProviderClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ProviderError is a non-2xx response from the provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("billing provider: %d %s", e.StatusCode, e.Message)
}

func (p *ProviderClient) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(data, &apiErr)
		return &ProviderError{StatusCode: resp.StatusCode, Message: apiErr.Error.Message}
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// Customer is the provider's customer object, reduced to what we read.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CreateCustomer creates a provider customer for an organization.
func (p *ProviderClient) CreateCustomer(ctx context.Context, email, name, orgID string) (*Customer, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("name", name)
	form.Set("metadata[organization_id]", orgID)
	var c Customer
	if err := p.do(ctx, http.MethodPost, "/customers", form, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// CheckoutSession is a hosted checkout session.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession starts a hosted subscription checkout for a
// customer and price. trialDays of 0 means no trial.
func (p *ProviderClient) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL, orgID string, trialDays int) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", customerID)
	form.Set("line_items[0][price]", priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("subscription_data[metadata][organization_id]", orgID)
	if trialDays > 0 {
		form.Set("subscription_data[trial_period_days]", strconv.Itoa(trialDays))
	}
	var s CheckoutSession
	if err := p.do(ctx, http.MethodPost, "/checkout/sessions", form, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// PortalSession is a hosted billing portal session.
type PortalSession struct {
	URL string `json:"url"`
}

// CreatePortalSession opens the provider's self-serve billing portal for a
// customer.
func (p *ProviderClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)
	var s PortalSession
	if err := p.do(ctx, http.MethodPost, "/billing_portal/sessions", form, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ProviderSubscription is the provider's subscription object, reduced to
// the fields the webhook and cancel paths read.
type ProviderSubscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	TrialEnd           int64  `json:"trial_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// PriceID returns the subscription's first item price, or "".
func (s *ProviderSubscription) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// CancelSubscription cancels at period end when atPeriodEnd is true,
// immediately otherwise.
func (p *ProviderClient) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*ProviderSubscription, error) {
	var s ProviderSubscription
	if atPeriodEnd {
		form := url.Values{}
		form.Set("cancel_at_period_end", "true")
		if err := p.do(ctx, http.MethodPost, "/subscriptions/"+subscriptionID, form, &s); err != nil {
			return nil, err
		}
		return &s, nil
	}
	if err := p.do(ctx, http.MethodDelete, "/subscriptions/"+subscriptionID, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ResumeSubscription clears a pending cancel-at-period-end.
func (p *ProviderClient) ResumeSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	form := url.Values{}
	form.Set("cancel_at_period_end", "false")
	var s ProviderSubscription
	if err := p.do(ctx, http.MethodPost, "/subscriptions/"+subscriptionID, form, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
