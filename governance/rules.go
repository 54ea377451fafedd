package governance

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one obsolescence check. A version rule carries MinVersion and its
// patterns capture the major and optional minor version; it matches only when
// the captured version is below MinVersion.
type Rule struct {
	ID          string   `yaml:"id" json:"id"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Patterns    []string `yaml:"patterns" json:"patterns"`
	Description string   `yaml:"description" json:"description"`
	Suggestion  string   `yaml:"suggestion" json:"suggestion"`
	MinVersion  string   `yaml:"min_version,omitempty" json:"min_version,omitempty"`

	compiled []*regexp.Regexp
	minMajor int
	minMinor int
}

// Compile validates the rule and compiles its patterns case-insensitively.
func (r *Rule) Compile() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule id is required")
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("rule %s: invalid severity %q", r.ID, r.Severity)
	}
	if len(r.Patterns) == 0 {
		return fmt.Errorf("rule %s: at least one pattern is required", r.ID)
	}
	if strings.TrimSpace(r.Suggestion) == "" {
		return fmt.Errorf("rule %s: suggestion is required", r.ID)
	}

	r.compiled = make([]*regexp.Regexp, 0, len(r.Patterns))
	for _, p := range r.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("rule %s: pattern %q: %w", r.ID, p, err)
		}
		if r.MinVersion != "" && re.NumSubexp() < 1 {
			return fmt.Errorf("rule %s: version pattern %q has no capture group", r.ID, p)
		}
		r.compiled = append(r.compiled, re)
	}

	if r.MinVersion != "" {
		major, minor, err := parseVersion(r.MinVersion)
		if err != nil {
			return fmt.Errorf("rule %s: min_version: %w", r.ID, err)
		}
		r.minMajor, r.minMinor = major, minor
	}
	return nil
}

func parseVersion(v string) (int, int, error) {
	parts := strings.SplitN(strings.TrimPrefix(strings.TrimSpace(v), "v"), ".", 3)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid version %q", v)
	}
	minor := 0
	if len(parts) > 1 && parts[1] != "" {
		if minor, err = strconv.Atoi(parts[1]); err != nil {
			return 0, 0, fmt.Errorf("invalid version %q", v)
		}
	}
	return major, minor, nil
}

// matchLine reports whether the rule fires on line.
func (r *Rule) matchLine(line string) bool {
	for _, re := range r.compiled {
		if r.MinVersion == "" {
			if re.MatchString(line) {
				return true
			}
			continue
		}
		for _, m := range re.FindAllStringSubmatch(line, -1) {
			if r.outdated(m) {
				return true
			}
		}
	}
	return false
}

func (r *Rule) outdated(groups []string) bool {
	major, err := strconv.Atoi(groups[1])
	if err != nil {
		return false
	}
	minor := 0
	if len(groups) > 2 && groups[2] != "" {
		minor, _ = strconv.Atoi(groups[2])
	}
	return major < r.minMajor || (major == r.minMajor && minor < r.minMinor)
}

// DefaultRules returns the built-in rule set in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "node_old_versions",
			Severity:    SeverityHigh,
			Patterns:    []string{`\bnode(?:\.?js)?\s*(?:v|version\s*)?(\d+)(?:\.(\d+))?\b`, `"node"\s*:\s*"[^\d"]*(\d+)(?:\.(\d+))?`},
			Description: "Outdated Node.js version",
			Suggestion:  "Upgrade to a supported Node.js LTS release (18 or newer)",
			MinVersion:  "16",
		},
		{
			ID:          "react_old_versions",
			Severity:    SeverityHigh,
			Patterns:    []string{`\breact(?:@|\s*v|\s+)(\d+)(?:\.(\d+))?\b`, `"react"\s*:\s*"[^\d"]*(\d+)(?:\.(\d+))?`},
			Description: "Outdated React version",
			Suggestion:  "Upgrade to React 18 and adopt hooks",
			MinVersion:  "17",
		},
		{
			ID:          "nextjs_old_versions",
			Severity:    SeverityHigh,
			Patterns:    []string{`\bnext(?:\.?js\s*v?|@)(\d+)(?:\.(\d+))?\b`, `"next"\s*:\s*"[^\d"]*(\d+)(?:\.(\d+))?`},
			Description: "Outdated Next.js version",
			Suggestion:  "Upgrade to Next.js 13 or newer with the App Router",
			MinVersion:  "12",
		},
		{
			ID:          "webpack_old_versions",
			Severity:    SeverityHigh,
			Patterns:    []string{`\bwebpack(?:@|\s*v|\s+)(\d+)(?:\.(\d+))?\b`, `"webpack"\s*:\s*"[^\d"]*(\d+)(?:\.(\d+))?`},
			Description: "Outdated webpack version",
			Suggestion:  "Upgrade to webpack 5 or consider Vite",
			MinVersion:  "5",
		},
		{
			ID:          "python_old_versions",
			Severity:    SeverityCritical,
			Patterns:    []string{`\bpython\s*v?(\d+)\.(\d+)\b`},
			Description: "End-of-life Python version",
			Suggestion:  "Upgrade to Python 3.8 or newer",
			MinVersion:  "3.8",
		},
		{
			ID:          "python2_syntax",
			Severity:    SeverityCritical,
			Patterns:    []string{`^\s*import\s+urllib2\b`, `^\s*print\s+["']`},
			Description: "Python 2 only syntax",
			Suggestion:  "Port to Python 3: use urllib.request and the print() function",
		},
		{
			ID:          "insecure_hashes",
			Severity:    SeverityCritical,
			Patterns:    []string{`\bmd5\s*\(`, `\bsha1\s*\(`, `createHash\(\s*['"](?:md5|sha1)['"]`, `hashlib\.(?:md5|sha1)\b`},
			Description: "Broken hash function used",
			Suggestion:  "Use SHA-256 for integrity and bcrypt or argon2 for passwords",
		},
		{
			ID:          "eval_usage",
			Severity:    SeverityCritical,
			Patterns:    []string{`\beval\s*\(`},
			Description: "Dynamic code evaluation with eval",
			Suggestion:  "Replace eval with explicit parsing such as JSON.parse",
		},
		{
			ID:          "react_class_components",
			Severity:    SeverityMedium,
			Patterns:    []string{`class\s+\w+\s+extends\s+(?:React\.)?(?:Pure)?Component\b`},
			Description: "React class component",
			Suggestion:  "Migrate to function components with hooks",
		},
		{
			ID:          "react_legacy_lifecycle",
			Severity:    SeverityHigh,
			Patterns:    []string{`\b(?:UNSAFE_)?componentWill(?:Mount|ReceiveProps|Update)\b`},
			Description: "Deprecated React lifecycle method",
			Suggestion:  "Use useEffect or getDerivedStateFromProps instead of componentWill* methods",
		},
		{
			ID:          "reactdom_render",
			Severity:    SeverityHigh,
			Patterns:    []string{`\bReactDOM\.(?:render|hydrate)\s*\(`, `\bfindDOMNode\s*\(`},
			Description: "Legacy ReactDOM root API",
			Suggestion:  "Use createRoot or hydrateRoot from react-dom/client",
		},
		{
			ID:          "nextjs_get_initial_props",
			Severity:    SeverityMedium,
			Patterns:    []string{`\bgetInitialProps\b`},
			Description: "Next.js getInitialProps data fetching",
			Suggestion:  "Use server components or getServerSideProps",
		},
		{
			ID:          "dockerfile_maintainer",
			Severity:    SeverityLow,
			Patterns:    []string{`^\s*MAINTAINER\s+`},
			Description: "Deprecated Dockerfile MAINTAINER instruction",
			Suggestion:  "Use LABEL org.opencontainers.image.authors instead",
		},
		{
			ID:          "docker_eol_base_images",
			Severity:    SeverityHigh,
			Patterns:    []string{`^\s*FROM\s+(?:ubuntu:1[0-6]\.|node:(?:[0-9]|1[0-5])\b|python:2)`},
			Description: "End-of-life Docker base image",
			Suggestion:  "Use a supported base image release",
		},
		{
			ID:          "var_declarations",
			Severity:    SeverityLow,
			Patterns:    []string{`^\s*var\s+[A-Za-z_$][\w$]*\s*=`},
			Description: "Function-scoped var declaration",
			Suggestion:  "Use const or let",
		},
		{
			ID:          "bower_usage",
			Severity:    SeverityMedium,
			Patterns:    []string{`\bbower\s+install\b`, `\bbower\.json\b`},
			Description: "Bower package manager",
			Suggestion:  "Use npm, pnpm or yarn",
		},
		{
			ID:          "angularjs_usage",
			Severity:    SeverityHigh,
			Patterns:    []string{`\bangular\.module\s*\(`, `\bng-app\b`, `\$scope\b`},
			Description: "AngularJS (1.x) reached end of life",
			Suggestion:  "Migrate to Angular or another maintained framework",
		},
		{
			ID:          "jquery_document_ready",
			Severity:    SeverityLow,
			Patterns:    []string{`\$\(\s*document\s*\)\.ready\s*\(`},
			Description: "jQuery document ready handler",
			Suggestion:  "Use DOMContentLoaded or defer scripts",
		},
		{
			ID:          "css_legacy_filters",
			Severity:    SeverityMedium,
			Patterns:    []string{`filter\s*:\s*progid:`, `-ms-filter\s*:`},
			Description: "Legacy Internet Explorer CSS filter",
			Suggestion:  "Use standard CSS properties with flexbox or grid",
		},
	}
}

// rulesFile is the YAML layout of a custom rules file.
type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// ReadRulesFile parses and compiles the rules in a YAML file.
func ReadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses and compiles YAML rules of the form
//
//	rules:
//	  - id: moment_js
//	    severity: medium
//	    patterns: ['\bmoment\(']
//	    description: moment.js is in maintenance mode
//	    suggestion: Use date-fns or Temporal
func ParseRules(data []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i := range f.Rules {
		if err := f.Rules[i].Compile(); err != nil {
			return nil, err
		}
	}
	return f.Rules, nil
}
