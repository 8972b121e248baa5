// Package prtg fetches the sensor inventory from a PRTG server's table API.
package prtg

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"prtgalert/internal/config"
	"prtgalert/internal/logger"
	"prtgalert/internal/metrics"
	"prtgalert/internal/models"
)

// ErrFetch marks a failed or unusable sensor fetch.
var ErrFetch = errors.New("sensor fetch failed")

const (
	tablePath = "/api/table.json"
	columns   = "objid,name,device,status,status_raw"
)

// Client polls /api/table.json.
type Client struct {
	client   *resty.Client
	username string
	password string
}

// NewClient creates a PRTG API client. Certificate verification is skipped
// when cfg.InsecureTLS is set since PRTG installs commonly self-sign.
func NewClient(cfg config.PRTGConfig) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.FetchTimeout).
		SetHeader("Accept", "application/json")
	if cfg.InsecureTLS {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	}
	return &Client{
		client:   client,
		username: cfg.Username,
		password: cfg.Password,
	}
}

// flexInt accepts numbers and numeric strings.
type flexInt struct {
	value int
	set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		f.value, f.set = n, true
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	f.value, f.set = int(n), true
	return nil
}

type sensorRow struct {
	ObjID     flexInt `json:"objid"`
	Name      string  `json:"name"`
	Device    string  `json:"device"`
	Status    string  `json:"status"`
	StatusRaw flexInt `json:"status_raw"`
}

type tableResponse struct {
	Version  string      `json:"prtg-version"`
	TreeSize int         `json:"treesize"`
	Sensors  []sensorRow `json:"sensors"`
}

// FetchSensors returns one snapshot per sensor. A missing status_raw is
// read as UP; rows without an object id are dropped.
func (c *Client) FetchSensors(ctx context.Context) ([]models.Snapshot, error) {
	log := logger.WithComponent("prtg")
	start := time.Now()
	defer func() { metrics.FetchDuration.Observe(time.Since(start).Seconds()) }()

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"content":  "sensors",
			"columns":  columns,
			"count":    "*",
			"username": c.username,
			"password": c.password,
		}).
		Get(tablePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: server returned %d", ErrFetch, resp.StatusCode())
	}

	var table tableResponse
	if err := json.Unmarshal(resp.Body(), &table); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrFetch, err)
	}

	snaps := make([]models.Snapshot, 0, len(table.Sensors))
	for _, row := range table.Sensors {
		if !row.ObjID.set {
			log.Warn().Str("sensor", row.Name).Msg("sensor row without objid, skipping")
			continue
		}
		status := models.StatusUp
		if row.StatusRaw.set {
			status = models.Status(row.StatusRaw.value)
		}
		snap := models.Snapshot{
			SensorID:   strconv.Itoa(row.ObjID.value),
			SensorName: row.Name,
			DeviceName: row.Device,
			Status:     status,
		}
		snap.Normalize()
		snaps = append(snaps, snap)
	}

	metrics.SensorsFetched.Set(float64(len(snaps)))
	log.Debug().Int("sensors", len(snaps)).Dur("duration", time.Since(start)).Msg("fetched sensors")
	return snaps, nil
}
