// Package config loads named run profiles from a YAML or JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/msaeedsaeedi/jobcap/internal/domain"
)

// DefaultPath is where profiles are looked up when no file is given.
var DefaultPath = filepath.Join("config", "config.json")

var ErrUnknownProfile = errors.New("unknown profile")

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

type File struct {
	Path     string
	Profiles map[string]*Profile
	aliases  map[string]string
}

type Profile struct {
	Name     string
	Command  string
	Timeout  domain.TimeoutPolicy
	Encoding string
	Workdir  string
	Env      map[string]string
	Aliases  []string
	// Unresolved lists placeholders that matched neither the document nor
	// the environment. They are left in place for the shell.
	Unresolved []string
}

// Load reads, validates and resolves the profile file at path.
func Load(path string) (*File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	data, err := normalizeDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	if err := validateAgainstSchema(data); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	file, err := parseProfiles(data, filepath.Dir(absPath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	file.Path = absPath
	return file, nil
}

// normalizeDocument decodes YAML (and therefore JSON) into its JSON form.
func normalizeDocument(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(stringKeys(doc))
}

// stringKeys rewrites the map[any]any nodes yaml produces for non-string
// keys so the tree can be encoded as JSON.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = stringKeys(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = stringKeys(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = stringKeys(item)
		}
		return t
	default:
		return v
	}
}

func parseProfiles(data []byte, baseDir string) (*File, error) {
	doc := gjson.ParseBytes(data)
	file := &File{
		Profiles: make(map[string]*Profile),
		aliases:  make(map[string]string),
	}

	doc.Get("profiles").ForEach(func(key, value gjson.Result) bool {
		p := &Profile{Name: key.String()}
		r := resolver{doc: doc}

		p.Command = r.expand(value.Get("command").String())
		p.Encoding = r.expand(value.Get("encoding").String())
		p.Timeout = timeoutOf(value.Get("timeout"), &r)
		if wd := value.Get("workdir"); wd.Exists() {
			p.Workdir = resolveWorkdir(baseDir, r.expand(wd.String()))
		}
		if env := value.Get("env"); env.Exists() {
			p.Env = make(map[string]string)
			env.ForEach(func(k, v gjson.Result) bool {
				p.Env[k.String()] = r.expand(v.String())
				return true
			})
		}
		for _, alias := range value.Get("aliases").Array() {
			p.Aliases = append(p.Aliases, alias.String())
		}
		p.Unresolved = r.unresolved

		file.Profiles[p.Name] = p
		return true
	})
	for _, name := range file.Names() {
		for _, alias := range file.Profiles[name].Aliases {
			if _, clash := file.Profiles[alias]; clash && alias != name {
				return nil, fmt.Errorf("profiles.%s: alias %q is also a profile name", name, alias)
			}
			if owner, taken := file.aliases[alias]; taken {
				return nil, fmt.Errorf("profiles.%s: alias %q already used by %s", name, alias, owner)
			}
			file.aliases[alias] = name
		}
	}
	return file, nil
}

// timeoutOf reads the lenient timeout field: numbers are minutes, strings
// are expanded and then parsed, anything else disables the cap.
func timeoutOf(v gjson.Result, r *resolver) domain.TimeoutPolicy {
	switch v.Type {
	case gjson.Number:
		return domain.TimeoutFromValue(v.Float())
	case gjson.String:
		return domain.ParseTimeout(r.expand(v.String()))
	default:
		return domain.NewTimeoutPolicy(domain.Disabled)
	}
}

type resolver struct {
	doc        gjson.Result
	unresolved []string
}

// expand replaces ${path} with the value at that gjson path in the
// document, or with the environment variable of that name.
func (r *resolver) expand(s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-1])
		if v := r.doc.Get(path); v.Exists() && !v.IsObject() && !v.IsArray() {
			return v.String()
		}
		if v, ok := os.LookupEnv(path); ok {
			return v
		}
		r.unresolved = append(r.unresolved, path)
		return match
	})
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return ""
	}
	if filepath.IsAbs(workdir) {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}

// Names returns the profile names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup finds a profile by name or alias.
func (f *File) Lookup(key string) (*Profile, error) {
	if p, ok := f.Profiles[key]; ok {
		return p, nil
	}
	if name, ok := f.aliases[key]; ok {
		return f.Profiles[name], nil
	}
	return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownProfile, key, strings.Join(f.Names(), ", "))
}

// Apply copies the profile onto cfg. An encoding or workdir already set on
// cfg is kept; profile env entries are appended in key order.
func (p *Profile) Apply(cfg *domain.RunConfig) {
	cfg.Profile = p.Name
	cfg.Command = p.Command
	cfg.Timeout = p.Timeout
	if cfg.Encoding == "" {
		cfg.Encoding = p.Encoding
	}
	if cfg.Workdir == "" {
		cfg.Workdir = p.Workdir
	}
	if len(p.Env) > 0 {
		keys := make([]string, 0, len(p.Env))
		for k := range p.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cfg.Env = append(cfg.Env, k+"="+p.Env[k])
		}
	}
}
