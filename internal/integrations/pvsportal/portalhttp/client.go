package portalhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/PostavkaBox/internal/integrations/pvsportal"
	"github.com/pkg/errors"
)

// Client ходит в корпоративный портал ПВЗ. Адрес инстанса строится из
// шаблона base URL, например "https://example-pvs-%s.local". Портал требует
// форму логина (identity/credential), сессионная кука живёт в cookie jar
// per-instance http.Client.
type Client struct {
	baseURLTemplate string
	username        string
	password        string

	mu      sync.Mutex
	clients map[string]*http.Client

	timeout time.Duration
}

func New(baseURLTemplate, username, password string) *Client {
	return &Client{
		baseURLTemplate: baseURLTemplate,
		username:        username,
		password:        password,
		clients:         make(map[string]*http.Client),
		timeout:         15 * time.Second,
	}
}

type shipmentsResp struct {
	Rows []struct {
		ExternalID      string `json:"externalId"`
		DeliveryDate    string `json:"deliveryDate"`
		CreatedAt       string `json:"createdAt"`
		UnloadStartedAt string `json:"unloadStartedAt"`
		ClosedAt        string `json:"closedAt"`
		Status          string `json:"status"`
		Sent            string `json:"sent"`
		Received        string `json:"received"`
		Excess          string `json:"excess"`
		BoxesCount      string `json:"boxesCount"`
	} `json:"rows"`
}

// instanceBaseURL подставляет инстанс в шаблон адреса. Шаблон без %s
// (один общий хост, например в тестах) используется как есть.
func (c *Client) instanceBaseURL(instance string) string {
	if strings.Contains(c.baseURLTemplate, "%s") {
		return fmt.Sprintf(c.baseURLTemplate, instance)
	}
	return c.baseURLTemplate
}

func (c *Client) FetchShipments(ctx context.Context, instance string) ([]pvsportal.RawShipment, error) {
	base := c.instanceBaseURL(instance)

	httpc := c.clientFor(instance)

	if err := c.login(ctx, httpc, base, instance); err != nil {
		return nil, err
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, pvsportal.NewSourceError(pvsportal.ErrMalformedResponse, instance, errors.Wrap(err, "parse base url"))
	}
	u.Path = "/api/shipments/incoming"
	q := u.Query()
	q.Set("date", time.Now().UTC().Format("2006-01-02"))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, pvsportal.NewSourceError(pvsportal.ErrUnreachable, instance, err)
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, classifyTransportErr(instance, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Сессия протухла между логином и выборкой — чистим клиента,
		// следующий цикл залогинится заново.
		c.dropClient(instance)
		return nil, pvsportal.NewSourceError(pvsportal.ErrAuthFailure, instance, fmt.Errorf("portal http %d", resp.StatusCode))
	case resp.StatusCode/100 != 2:
		return nil, pvsportal.NewSourceError(pvsportal.ErrUnreachable, instance, fmt.Errorf("portal http %d", resp.StatusCode))
	}

	var r shipmentsResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, pvsportal.NewSourceError(pvsportal.ErrMalformedResponse, instance, errors.Wrap(err, "decode shipments"))
	}

	out := make([]pvsportal.RawShipment, 0, len(r.Rows))
	for _, row := range r.Rows {
		out = append(out, pvsportal.RawShipment{
			ReportID:        row.ExternalID,
			PvsName:         instance,
			DeliveryDate:    row.DeliveryDate,
			CreatedAt:       row.CreatedAt,
			UnloadStartedAt: row.UnloadStartedAt,
			ClosedAt:        row.ClosedAt,
			Status:          strings.ToLower(strings.TrimSpace(row.Status)),
			Sent:            row.Sent,
			Received:        row.Received,
			Excess:          row.Excess,
			BoxesCount:      row.BoxesCount,
		})
	}
	return out, nil
}

func (c *Client) login(ctx context.Context, httpc *http.Client, base, instance string) error {
	form := url.Values{}
	form.Set("identity", c.username)
	form.Set("credential", c.password)
	form.Set("redirect", "/shipments/incoming/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/user/login", strings.NewReader(form.Encode()))
	if err != nil {
		return pvsportal.NewSourceError(pvsportal.ErrUnreachable, instance, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpc.Do(req)
	if err != nil {
		return classifyTransportErr(instance, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return pvsportal.NewSourceError(pvsportal.ErrAuthFailure, instance, fmt.Errorf("login http %d", resp.StatusCode))
	}
	if resp.StatusCode/100 != 2 && resp.StatusCode/100 != 3 {
		return pvsportal.NewSourceError(pvsportal.ErrUnreachable, instance, fmt.Errorf("login http %d", resp.StatusCode))
	}
	return nil
}

func (c *Client) clientFor(instance string) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[instance]; ok {
		return hc
	}
	jar, _ := cookiejar.New(nil)
	hc := &http.Client{Timeout: c.timeout, Jar: jar}
	c.clients[instance] = hc
	return hc
}

func (c *Client) dropClient(instance string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, instance)
}

func classifyTransportErr(instance string, err error) *pvsportal.SourceError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pvsportal.NewSourceError(pvsportal.ErrTimeout, instance, err)
	}
	type timeouter interface{ Timeout() bool }
	var te timeouter
	if errors.As(err, &te) && te.Timeout() {
		return pvsportal.NewSourceError(pvsportal.ErrTimeout, instance, err)
	}
	return pvsportal.NewSourceError(pvsportal.ErrUnreachable, instance, err)
}
