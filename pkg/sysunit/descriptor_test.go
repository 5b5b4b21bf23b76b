package sysunit

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const wantUnit = `[Unit]
Description=payment-api (staging)
After=network.target

[Service]
Type=simple
User=www-data
Group=www-data
WorkingDirectory=/srv/payment-api
ExecStart=/srv/payment-api/.venv/bin/python /srv/payment-api/src/main.py
Restart=always
RestartSec=10
StandardOutput=syslog
StandardError=syslog
SyslogIdentifier=payment-api-staging
Environment=PYTHONUNBUFFERED=1

[Install]
WantedBy=multi-user.target
`

func TestDescriptorRender(t *testing.T) {
	d := NewDescriptor("payment-api", "staging", "/srv/payment-api")

	got, err := d.Render()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff(wantUnit, got); diff != "" {
		t.Errorf("unexpected unit:\n%s", diff)
	}

	{
		// Rendering must be deterministic, byte for byte.
		again, err := d.Render()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again != got {
			t.Error("two renders of the same descriptor differ")
		}
	}
}

func TestDescriptorNames(t *testing.T) {
	d := NewDescriptor("payment-api", "staging", "/srv/payment-api")

	{
		if d.ServiceName() != "payment-api-staging" {
			t.Errorf("unexpected service name: %s", d.ServiceName())
		}
	}

	{
		if d.Path() != "/etc/systemd/system/payment-api-staging.service" {
			t.Errorf("unexpected path: %s", d.Path())
		}
	}

	{
		if d.LogDir() != "/var/log/payment-api-staging" {
			t.Errorf("unexpected log dir: %s", d.LogDir())
		}
	}
}
