// Package client relays map interactions from a rendered widget back to the
// server. It has no server dependencies so it also builds for js/wasm.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client relays clicks of one widget instance to the server. It
// implements render.Bridge; calls return at once and never report errors
// to the caller.
type Client struct {
	BaseURL  string
	Instance string
	HTTP     *http.Client
	Log      *zerolog.Logger

	// done, when set, is called after each request finishes.
	done func(path string, err error)
}

func New(baseURL, instance string, log *zerolog.Logger) *Client {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Client{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		Instance: instance,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		Log:      log,
	}
}

// MapClick is the payload of a map click.
type MapClick struct {
	Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Clicked latitude"`
	Lng float64 `json:"lng" minimum:"-180" maximum:"180" doc:"Clicked longitude"`
}

// LayerClick is the payload of a layer click.
type LayerClick struct {
	ID string `json:"id" minLength:"1" doc:"Id of the clicked layer"`
}

func (c *Client) OnMapClick(lat, lng float64) {
	c.send("map-click", MapClick{Lat: lat, Lng: lng})
}

func (c *Client) OnLayerClick(id string) {
	c.send("layer-click", LayerClick{ID: id})
}

func (c *Client) send(action string, body any) {
	path := "/api/v1/instances/" + url.PathEscape(c.Instance) + "/" + action
	go func() {
		err := c.post(path, body)
		if err != nil {
			c.Log.Warn().Err(err).Str("instance", c.Instance).Str("action", action).Msg("interaction not delivered")
		}
		if c.done != nil {
			c.done(path, err)
		}
	}()
}

func (c *Client) post(path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	return nil
}
