package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/tokei-app/tokei/pkg/config"
)

// Producer endpoint defaults.
const (
	DefaultPingTimeout   = 1500 * time.Millisecond
	DefaultExportTimeout = 5 * time.Second

	// ConflictPort is where AnkiConnect usually listens.
	ConflictPort = 8765

	// FallbackPort is tried when the configured port is ConflictPort.
	FallbackPort = 8766
)

// ErrNotIdentified means something answered but it is not the expected
// producer.
var ErrNotIdentified = errors.New("endpoint did not identify as the expected producer")

// identity is the body shape of /ping and /export.
type identity struct {
	OK    bool   `json:"ok"`
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// Client talks to HTTP producers.
type Client struct {
	http *resty.Client

	PingTimeout   time.Duration
	ExportTimeout time.Duration

	// Fallbacks maps a configured port to the single alternate tried when
	// it does not answer.
	Fallbacks map[int]int
}

// NewClient creates a producer client.
func NewClient() *Client {
	return &Client{
		http:          resty.New().SetHeader("User-Agent", "tokei"),
		PingTimeout:   DefaultPingTimeout,
		ExportTimeout: DefaultExportTimeout,
		Fallbacks:     map[int]int{ConflictPort: FallbackPort},
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// BaseURL returns the producer base URL for host and port.
func BaseURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Ping checks that the endpoint at port answers /ping with the expected
// identity.
func (c *Client) Ping(ctx context.Context, ep config.Endpoint, port int) error {
	_, err := c.get(ctx, BaseURL(ep.Host, port)+"/ping", nil, c.PingTimeout, identityOf(ep))
	return err
}

// Locate finds the port the producer answers on. It tries the configured
// port and then its fallback, if any. The fallback is never persisted.
func (c *Client) Locate(ctx context.Context, ep config.Endpoint) (int, error) {
	err := c.Ping(ctx, ep, ep.Port)
	if err == nil {
		return ep.Port, nil
	}
	alt, ok := c.Fallbacks[ep.Port]
	if !ok || alt == ep.Port {
		return 0, err
	}
	if fallbackErr := c.Ping(ctx, ep, alt); fallbackErr == nil {
		return alt, nil
	}
	return 0, err
}

// Export asks the producer at port to write its artifact.
func (c *Client) Export(ctx context.Context, ep config.Endpoint, port int) error {
	var query map[string]string
	if ep.Token != "" {
		query = map[string]string{"token": ep.Token}
	}
	base := BaseURL(ep.Host, port)
	if _, err := c.get(ctx, base+"/export", query, c.ExportTimeout, identityOf(ep)); err != nil {
		if errors.Is(err, ErrNotIdentified) {
			return fmt.Errorf("unexpected response from %s/export; this port may be occupied by another add-on (common: AnkiConnect on %d): %w",
				base, ConflictPort, err)
		}
		return err
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string, query map[string]string, timeout time.Duration, want string) (*identity, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	res, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", stripQuery(url), err)
	}

	var body identity
	decodeErr := json.Unmarshal(res.Bytes(), &body)

	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		msg := strings.TrimSpace(res.String())
		if decodeErr == nil && body.Error != "" {
			msg = body.Error
		}
		return nil, fmt.Errorf("GET %s: HTTP %d %s", stripQuery(url), res.StatusCode(), msg)
	}
	if decodeErr != nil || !body.OK || body.Name != want {
		return nil, fmt.Errorf("GET %s: %w", stripQuery(url), ErrNotIdentified)
	}
	return &body, nil
}

func identityOf(ep config.Endpoint) string {
	if ep.Identity != "" {
		return ep.Identity
	}
	return config.DefaultHashiIdentity
}

// stripQuery keeps tokens out of error messages.
func stripQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
