// Package dockerfile generates inspection build files out of raw,
// untransformed software stack specifications.
package dockerfile

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/stackinspect/inspectd/internal/document"
)

const fileTemplate = `FROM {{ .BaseImage }}
ENV LANG=en_US.UTF-8 HOME=/home/inspectd
{{- range .Environment }}
ENV {{ .Name }}={{ .Value }}
{{- end }}
{{- if .Packages }}
RUN dnf install -y --setopt=tsflags=nodocs {{ join .Packages " " }} && dnf clean all
{{- end }}
{{- if .PythonPackages }}
RUN python3 -m pip install --no-cache-dir {{ join .PythonPackages " " }}
{{- end }}
WORKDIR /home/inspectd
{{- if .ScriptURL }}
ADD {{ .ScriptURL }} /home/inspectd/inspect.sh
RUN chmod +x /home/inspectd/inspect.sh
CMD ["/home/inspectd/inspect.sh"]
{{- end }}
`

var tmpl = template.Must(
	template.New("dockerfile").Funcs(template.FuncMap{"join": strings.Join}).Parse(fileTemplate),
)

type envVar struct {
	Name  string
	Value string
}

type templateInput struct {
	BaseImage      string
	Environment    []envVar
	Packages       []string
	PythonPackages []string
	ScriptURL      string
}

// Generator renders Dockerfiles from specifications. The HTTP client is
// used to verify a referenced inspection script can actually be
// obtained before anything is scheduled.
type Generator struct {
	client *http.Client
	logger *zap.Logger
}

// New creates a Generator. A nil client falls back to a default with a
// conservative timeout.
func New(client *http.Client, logger *zap.Logger) *Generator {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, logger: logger}
}

// Generate renders the Dockerfile for the given specification. The
// second return reports whether a run job should follow the build,
// which is the case whenever the specification carries a script.
func (g *Generator) Generate(ctx context.Context, spec document.Mapping) (string, bool, error) {
	input, err := g.templateInput(ctx, spec)
	if err != nil {
		return "", false, err
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, input); err != nil {
		return "", false, fmt.Errorf("render dockerfile: %w", err)
	}
	return b.String(), input.ScriptURL != "", nil
}

func (g *Generator) templateInput(ctx context.Context, spec document.Mapping) (templateInput, error) {
	base, ok := spec["base"].(document.String)
	if !ok || base == "" {
		return templateInput{}, fmt.Errorf("no base image provided in the specification")
	}
	input := templateInput{BaseImage: string(base)}

	var err error
	if input.Packages, err = stringList(spec, "packages"); err != nil {
		return templateInput{}, err
	}
	if input.PythonPackages, err = stringList(spec, "python_packages"); err != nil {
		return templateInput{}, err
	}

	if env, ok := spec["environment"].(document.Mapping); ok {
		for name, v := range env {
			value, ok := document.ScalarString(v)
			if !ok {
				return templateInput{}, fmt.Errorf("environment variable %q is not a scalar", name)
			}
			input.Environment = append(input.Environment, envVar{Name: name, Value: value})
		}
		sort.Slice(input.Environment, func(i, j int) bool {
			return input.Environment[i].Name < input.Environment[j].Name
		})
	}

	if script, ok := spec["script"]; ok {
		u, ok := script.(document.String)
		if !ok || u == "" {
			return templateInput{}, fmt.Errorf("script must be a non-empty URL")
		}
		if err := g.checkScript(ctx, string(u)); err != nil {
			return templateInput{}, err
		}
		input.ScriptURL = string(u)
	}

	return input, nil
}

// checkScript fails fast when the inspection script cannot be obtained,
// so a broken specification never reaches the cluster.
func (g *Generator) checkScript(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("cannot obtain script: invalid URL %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("cannot obtain script: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot obtain script %q: %w", rawURL, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			g.logger.Warn("close script response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cannot obtain script %q: unexpected status %d", rawURL, resp.StatusCode)
	}
	return nil
}

func stringList(spec document.Mapping, key string) ([]string, error) {
	v, ok := spec[key]
	if !ok {
		return nil, nil
	}
	seq, ok := v.(document.Sequence)
	if !ok {
		return nil, fmt.Errorf("%s must be a list", key)
	}
	out := make([]string, 0, len(seq))
	for i, item := range seq {
		s, ok := document.ScalarString(item)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not a scalar", key, i)
		}
		out = append(out, s)
	}
	return out, nil
}
