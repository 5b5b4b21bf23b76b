package sysunit

import (
	"fmt"
	"path"

	"github.com/variantdev/ship/pkg/tmpl"
)

const (
	DefaultUser       = "www-data"
	DefaultGroup      = "www-data"
	DefaultRestartSec = 10
	DefaultEntrypoint = "src/main.py"

	unitDir = "/etc/systemd/system"
)

// unitTemplate is rendered field by field in a fixed order so the same
// descriptor always produces byte-identical output.
const unitTemplate = `[Unit]
Description={{.Description}}
After=network.target

[Service]
Type=simple
User={{.User}}
Group={{.Group}}
WorkingDirectory={{.Dir}}
ExecStart={{.ExecStart}}
Restart=always
RestartSec={{.RestartSec}}
StandardOutput=syslog
StandardError=syslog
SyslogIdentifier={{.Name}}
Environment=PYTHONUNBUFFERED=1

[Install]
WantedBy=multi-user.target
`

// Descriptor holds everything that ends up in the service unit for one
// app/environment pair.
type Descriptor struct {
	AppName     string
	Environment string

	// Dir is the remote application directory, also the unit's working
	// directory.
	Dir string
	// Entrypoint is the script the sandbox interpreter runs, relative to Dir.
	Entrypoint string

	User       string
	Group      string
	RestartSec int
}

func NewDescriptor(app, environment, dir string) *Descriptor {
	return &Descriptor{
		AppName:     app,
		Environment: environment,
		Dir:         dir,
		Entrypoint:  DefaultEntrypoint,
		User:        DefaultUser,
		Group:       DefaultGroup,
		RestartSec:  DefaultRestartSec,
	}
}

// ServiceName is the systemd unit name without the .service suffix,
// app-environment.
func (d *Descriptor) ServiceName() string {
	return d.AppName + "-" + d.Environment
}

func (d *Descriptor) Path() string {
	return path.Join(unitDir, d.ServiceName()+".service")
}

func (d *Descriptor) LogDir() string {
	return path.Join("/var/log", d.ServiceName())
}

func (d *Descriptor) ExecStart() string {
	return path.Join(d.Dir, ".venv", "bin", "python") + " " + path.Join(d.Dir, d.Entrypoint)
}

func (d *Descriptor) Render() (string, error) {
	return tmpl.Render("unit", unitTemplate, map[string]interface{}{
		"Description": fmt.Sprintf("%s (%s)", d.AppName, d.Environment),
		"Name":        d.ServiceName(),
		"Dir":         d.Dir,
		"ExecStart":   d.ExecStart(),
		"User":        d.User,
		"Group":       d.Group,
		"RestartSec":  d.RestartSec,
	})
}
