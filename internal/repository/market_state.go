package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	xhttp "Guardrail/pkg/http"
)

var ErrNoMarketState = errors.New("market state not available")

// StaticMarketStates serves snapshots supplied up front, e.g. inline with a scan request.
type StaticMarketStates map[string]models.MarketState

var _ domrepo.MarketStateProvider = StaticMarketStates(nil)

func (s StaticMarketStates) MarketState(_ context.Context, target string) (models.MarketState, error) {
	if m, ok := s[target]; ok {
		return m, nil
	}
	if m, ok := s[strings.ToUpper(target)]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMarketState, target)
}

// HTTPMarketStateProvider fetches a JSON object per target from an upstream
// service. The URL template's "{target}" placeholder is replaced by the
// escaped target. The body is either the snapshot object or a
// {status, message, data} envelope around it.
type HTTPMarketStateProvider struct {
	client   *xhttp.Client
	template string
}

var _ domrepo.MarketStateProvider = (*HTTPMarketStateProvider)(nil)

func NewHTTPMarketStateProvider(client *xhttp.Client, template string) *HTTPMarketStateProvider {
	return &HTTPMarketStateProvider{client: client, template: template}
}

func (p *HTTPMarketStateProvider) MarketState(ctx context.Context, target string) (models.MarketState, error) {
	u := strings.ReplaceAll(p.template, "{target}", url.PathEscape(target))

	var body map[string]any
	if err := p.client.GetJSON(ctx, u, &body); err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNoMarketState, target)
		}
		return nil, fmt.Errorf("fetch market state %s: %w", target, err)
	}
	if inner, ok := body["data"].(map[string]any); ok && len(body) <= 3 {
		body = inner
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s: empty body", ErrNoMarketState, target)
	}
	return models.MarketState(body), nil
}
