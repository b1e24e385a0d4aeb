// internal/common/zoho/crm.go
package zoho

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "placement-broker/internal/common/errors"
	commonhttp "placement-broker/internal/common/http"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/retry"
	"placement-broker/internal/models"
)

const DefaultBaseURL = "https://www.zohoapis.com/crm/v3"

// Account is the CRM record of a recruitment agency. Agency_ID is a custom
// field holding the broker's agency identifier.
type Account struct {
	ID          string `json:"id,omitempty"`
	AccountName string `json:"Account_Name"`
	AgencyID    string `json:"Agency_ID"`
	Email       string `json:"Email,omitempty"`
	Phone       string `json:"Phone,omitempty"`
}

// CRMClient reads agency contact details from Zoho CRM.
type CRMClient struct {
	oauthToken string
	baseURL    string
	httpClient *commonhttp.Client
}

func NewCRMClient(baseURL, oauthToken string, timeout time.Duration, log logger.Logger) *CRMClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CRMClient{
		oauthToken: oauthToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: commonhttp.NewClient(timeout, retry.Policy{}, log),
	}
}

// GetAgencyContact finds the account whose Agency_ID matches agencyID.
// Zoho answers 204 when the search has no hits; that maps to ErrNotFound.
func (c *CRMClient) GetAgencyContact(ctx context.Context, agencyID string) (*models.AgencyContact, error) {
	criteria := fmt.Sprintf("(Agency_ID:equals:%s)", agencyID)
	endpoint := fmt.Sprintf("%s/Accounts/search?criteria=%s", c.baseURL, url.QueryEscape(criteria))

	var result struct {
		Data []Account `json:"data"`
	}
	status, err := c.httpClient.GetJSON(ctx, endpoint, map[string]string{
		"Authorization": "Zoho-oauthtoken " + c.oauthToken,
	}, &result)
	if err != nil {
		var statusErr *commonhttp.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, apperrors.ErrNotFound
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NewTimeoutError("zoho-crm", err)
		}
		return nil, apperrors.NewExternalServiceError("zoho-crm", err)
	}
	if status == http.StatusNoContent || len(result.Data) == 0 {
		return nil, apperrors.ErrNotFound
	}

	account := result.Data[0]
	return &models.AgencyContact{
		AgencyID: agencyID,
		Name:     account.AccountName,
		Email:    account.Email,
		Phone:    account.Phone,
	}, nil
}
