package influxdb_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/iotbridge/internal/adapter/influxdb"
	"github.com/Strob0t/iotbridge/internal/config"
	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/domain/webhook"
)

func telemetry(t *testing.T, raw string) webhook.Point {
	t.Helper()
	var ev webhook.ThingsBoardEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatal(err)
	}
	return webhook.NewTelemetryPoint("acme", "dev 1", ev.Data)
}

func TestWrite(t *testing.T) {
	var (
		body  string
		query string
		auth  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			t.Errorf("path = %s", r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		body, query, auth = string(b), r.URL.RawQuery, r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := influxdb.New(config.InfluxDB{URL: srv.URL, Org: "cdm-org", Bucket: "iot-metrics"}, func() string { return "tkn" }, nil)
	p := telemetry(t, `{"data":{"a":1,"b":2.5,"c":true,"d":"x","e":null}}`)
	if err := w.Write(context.Background(), p); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := `device_telemetry,device_id=dev_1,tenant_id=acme a=1i,b=2.5,c=true,d="x"`
	if body != want {
		t.Errorf("body = %q\nwant  %q", body, want)
	}
	if query != "bucket=iot-metrics&org=cdm-org&precision=ms" {
		t.Errorf("query = %q", query)
	}
	if auth != "Token tkn" {
		t.Errorf("auth = %q", auth)
	}
}

func TestWrite_SkipsWithoutToken(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	w := influxdb.New(config.InfluxDB{URL: srv.URL}, func() string { return "" }, nil)
	if err := w.Write(context.Background(), telemetry(t, `{"data":{"a":1}}`)); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("write must be skipped without a token")
	}
}

func TestWrite_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	w := influxdb.New(config.InfluxDB{URL: srv.URL}, func() string { return "bad" }, nil)
	if err := w.Write(context.Background(), telemetry(t, `{"data":{"a":1}}`)); !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}
