package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Source supplies the raw policy data. Implementations must be safe for
// concurrent use; the refresher calls the two fetches from independent
// schedules.
type Source interface {
	// FetchBanMode returns the raw ban-mode cell value ("off", "captcha",
	// "instant").
	FetchBanMode(ctx context.Context) (string, error)

	// FetchForbiddenWords returns the forbidden-word list in sheet order.
	FetchForbiddenWords(ctx context.Context) ([]string, error)
}

// HTTPSourceConfig holds settings for the spreadsheet-values HTTP source.
type HTTPSourceConfig struct {
	BaseURL       string        // e.g. https://sheets.internal
	SpreadsheetID string        // document identifier
	WordRange     string        // range holding the word list, e.g. "A1:A989"
	ModeCell      string        // cell holding the ban mode, e.g. "Settings!C2"
	Timeout       time.Duration // per-request timeout
}

// DefaultHTTPSourceConfig returns sensible defaults. BaseURL and
// SpreadsheetID must still be provided by the caller.
func DefaultHTTPSourceConfig() HTTPSourceConfig {
	return HTTPSourceConfig{
		WordRange: "A1:A989",
		ModeCell:  "Settings!C2",
		Timeout:   30 * time.Second,
	}
}

// HTTPSource reads policy data from a spreadsheet-style values API:
//
//	GET {base}/v4/spreadsheets/{id}/values/{range}
//	=> {"values": [["header"], ["word1"], ["word2"], ...]}
//
// The first row of the word range is a header and is skipped.
type HTTPSource struct {
	config HTTPSourceConfig
	client *http.Client
}

// NewHTTPSource creates an HTTPSource with the given config.
func NewHTTPSource(config HTTPSourceConfig) *HTTPSource {
	return &HTTPSource{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// valuesResponse mirrors the values API payload.
type valuesResponse struct {
	Values [][]string `json:"values"`
}

func (s *HTTPSource) fetchValues(ctx context.Context, cellRange string) ([][]string, error) {
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s",
		s.config.BaseURL, url.PathEscape(s.config.SpreadsheetID), url.PathEscape(cellRange))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("policy: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policy: fetch %s: %w", cellRange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy: fetch %s: unexpected status %d", cellRange, resp.StatusCode)
	}

	var body valuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("policy: decode %s: %w", cellRange, err)
	}
	return body.Values, nil
}

// FetchForbiddenWords fetches the word range and flattens it to a list.
// The header row is skipped.
func (s *HTTPSource) FetchForbiddenWords(ctx context.Context) ([]string, error) {
	values, err := s.fetchValues(ctx, s.config.WordRange)
	if err != nil {
		return nil, err
	}
	if len(values) <= 1 {
		return nil, nil
	}

	var words []string
	for _, row := range values[1:] {
		for _, cell := range row {
			words = append(words, cell)
		}
	}
	return words, nil
}

// FetchBanMode fetches the mode cell and returns its raw value. An empty
// range yields an empty string; the caller decides how to interpret it.
func (s *HTTPSource) FetchBanMode(ctx context.Context) (string, error) {
	values, err := s.fetchValues(ctx, s.config.ModeCell)
	if err != nil {
		return "", err
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return "", nil
	}
	return values[0][0], nil
}
