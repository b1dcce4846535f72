package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxSourceSize bounds a rule document fetched over HTTP.
const maxSourceSize = 4 << 20

// LoadError reports a rule source that could not be read, decoded or
// compiled. It is fatal to engine start-up.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("dispatch: load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ruleFile is the document shape of a rule source. JSON documents decode
// through the YAML parser unchanged.
type ruleFile struct {
	Commands []Rule `yaml:"commands"`
}

// Decode parses a rule document. A document without a commands key yields an
// empty table.
func Decode(data []byte) ([]Rule, error) {
	var f ruleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return f.Commands, nil
}

// ReadRules fetches and decodes the rule document at source without
// compiling it. Errors are *[LoadError].
func ReadRules(ctx context.Context, source string) ([]Rule, error) {
	data, err := fetch(ctx, source)
	if err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}
	rules, err := Decode(data)
	if err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}
	return rules, nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// fetch reads source from the local filesystem or, for http(s) URLs, over
// HTTP.
func fetch(ctx context.Context, source string) ([]byte, error) {
	if !isRemote(source) {
		return os.ReadFile(source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSourceSize))
}
