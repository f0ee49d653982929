package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pricewatch/pricewatch/internal/config"
)

const zenRowsEndpoint = "https://api.zenrows.com/v1/"

// priceWidgetSelector is the element the rendering API waits for before
// returning the page; Ozon mounts prices into this widget.
const priceWidgetSelector = "[data-widget='webPrice']"

// ZenRowsFetcher is the lightweight strategy: one outbound request per
// target to the ZenRows rendering API (JS render + premium proxy), final
// HTML back. No payload capture is possible with this strategy.
type ZenRowsFetcher struct {
	apiKey   string
	endpoint string
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

func NewZenRowsFetcher(cfg config.FetchConfig, logger *slog.Logger) (*ZenRowsFetcher, error) {
	if cfg.ZenRowsAPIKey == "" {
		return nil, errors.New("zenrows api key is not configured")
	}

	return &ZenRowsFetcher{
		apiKey:   cfg.ZenRowsAPIKey,
		endpoint: zenRowsEndpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		timeout:  cfg.Timeout,
		logger:   logger.With("component", "zenrows_fetcher"),
	}, nil
}

func (f *ZenRowsFetcher) Fetch(ctx context.Context, target string) (*RawDocument, error) {
	q := url.Values{}
	q.Set("apikey", f.apiKey)
	q.Set("url", target)
	q.Set("js_render", "true")
	q.Set("premium_proxy", "true")
	q.Set("proxy_country", "ru")
	q.Set("wait_for", priceWidgetSelector)
	q.Set("wait", "5000")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}

	f.logger.Info("fetching via rendering api", "url", truncateURL(target))

	resp, err := f.client.Do(req)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() || errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Err: err}
		}
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		f.logger.Error("rendering api returned non-200", "status", resp.StatusCode)
		return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("zenrows returned HTTP %d", resp.StatusCode)}
	}

	return &RawDocument{HTML: string(body)}, nil
}

// Release is a no-op: the API strategy holds no per-target resources.
func (f *ZenRowsFetcher) Release(ctx context.Context) error { return nil }

func (f *ZenRowsFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

func truncateURL(u string) string {
	if len(u) > 60 {
		return u[:60] + "..."
	}
	return u
}
