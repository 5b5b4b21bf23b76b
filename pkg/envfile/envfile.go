package envfile

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// Vars is a set of environment variables destined for the application's .env
// file on the target.
type Vars map[string]string

// Merge folds other into v. On collision the value from other wins, so later
// sources take precedence.
func (v Vars) Merge(other Vars) Vars {
	for k, val := range other {
		v[k] = val
	}
	return v
}

// FromJSON decodes a JSON object of NAME to VALUE pairs. A non-empty path is
// a JSONPath expression selecting a nested object inside the document, e.g.
// "$.staging". Scalar values are stringified; nested objects and arrays are
// rejected.
func FromJSON(doc []byte, path string) (Vars, error) {
	var data interface{}
	if err := json.Unmarshal(doc, &data); err != nil {
		return nil, fmt.Errorf("parsing env json: %v", err)
	}

	if path != "" {
		selected, err := jsonpath.Get(path, data)
		if err != nil {
			return nil, fmt.Errorf("selecting %s: %v", path, err)
		}
		data = selected
	}

	obj, ok := data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("env json must be an object of NAME to VALUE pairs, got %T", data)
	}

	vars := Vars{}
	for k, raw := range obj {
		switch val := raw.(type) {
		case string:
			vars[k] = val
		case float64, bool, nil:
			vars[k] = fmt.Sprintf("%v", val)
		default:
			return nil, fmt.Errorf("env var %s: nested values are not supported, got %T", k, raw)
		}
	}

	return vars, nil
}

// FromEnviron filters an environ slice, as returned by os.Environ, which the
// caller passes in explicitly. Variables matching prefix are included with
// the prefix stripped; variables named in allow are included as-is.
func FromEnviron(environ []string, prefix string, allow []string) Vars {
	allowed := map[string]struct{}{}
	for _, name := range allow {
		allowed[name] = struct{}{}
	}

	vars := Vars{}
	for _, kv := range environ {
		i := strings.Index(kv, "=")
		if i < 0 {
			continue
		}
		name, value := kv[:i], kv[i+1:]

		if prefix != "" && strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			vars[strings.TrimPrefix(name, prefix)] = value
			continue
		}

		if _, ok := allowed[name]; ok {
			vars[name] = value
		}
	}

	return vars
}

var nameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate enforces the strict KEY=VALUE file format: names must be
// identifiers and values must not span lines. There is no quoting layer, so
// anything else would corrupt the file silently.
func (v Vars) Validate() error {
	var problems []string

	for _, k := range v.names() {
		if !nameRegex.MatchString(k) {
			problems = append(problems, fmt.Sprintf("invalid variable name %q", k))
		}
		if strings.ContainsAny(v[k], "\n\r") {
			problems = append(problems, fmt.Sprintf("variable %s: value must not contain newlines", k))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("env vars: %s", strings.Join(problems, "; "))
	}

	return nil
}

// Render produces the .env file body. Names are sorted so the output is
// deterministic for a given set.
func (v Vars) Render() []byte {
	var b strings.Builder
	for _, k := range v.names() {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(v[k])
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func (v Vars) names() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
