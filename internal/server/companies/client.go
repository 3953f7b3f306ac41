// Package companies looks up member companies in the registry for display
// names on tasks and notifications.
package companies

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/creditshare/internal/server/models"
)

// Directory resolves company static ids.
type Directory interface {
	// GetCompanyByStaticID returns nil, nil when the company is unknown.
	GetCompanyByStaticID(ctx context.Context, staticID string) (*models.Company, error)
}

type HTTPDirectory struct {
	baseURL string
	http    *http.Client
}

func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

type companyDTO struct {
	StaticID string `json:"staticId"`
	X500Name struct {
		O string `json:"O"`
	} `json:"x500Name"`
	IsFinancialInstitution bool `json:"isFinancialInstitution"`
	IsMember               bool `json:"isMember"`
}

func (d *HTTPDirectory) GetCompanyByStaticID(ctx context.Context, staticID string) (*models.Company, error) {
	query, err := json.Marshal(map[string]string{"staticId": staticID})
	if err != nil {
		return nil, err
	}
	endpoint := d.baseURL + "/registry/cache?companyData=" + url.QueryEscape(string(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("company lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("company lookup: status %d", resp.StatusCode)
	}

	var found []companyDTO
	if err := json.NewDecoder(resp.Body).Decode(&found); err != nil {
		return nil, fmt.Errorf("company lookup: decode: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}

	c := found[0]
	return &models.Company{
		StaticID:               c.StaticID,
		Name:                   c.X500Name.O,
		IsFinancialInstitution: c.IsFinancialInstitution,
		IsMember:               c.IsMember,
	}, nil
}
