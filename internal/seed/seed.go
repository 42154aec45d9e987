// Package seed loads the bundled sample workflow definitions.
package seed

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/stepwise/pkg/schema"
)

//go:embed definitions/*.yaml
var bundled embed.FS

// refPrefix marks a string parameter that names another seeded definition.
// It is replaced by that definition's id when loading.
const refPrefix = "$ref:"

// Definitions is the definition management surface the loader needs.
// Satisfied by *engine.Engine.
type Definitions interface {
	CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) (*schema.WorkflowDefinition, error)
	SetDefinitionStatus(ctx context.Context, id string, status schema.DefinitionStatus) error
	DefinitionByName(ctx context.Context, name string) (*schema.WorkflowDefinition, error)
}

// Result reports what Load did with each bundled definition.
type Result struct {
	Created []string
	Skipped []string
}

// Decode parses a single YAML definition.
func Decode(r io.Reader) (*schema.WorkflowDefinition, error) {
	var def schema.WorkflowDefinition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode definition: %v", err).WithCause(err)
	}
	return &def, nil
}

// Bundled returns the embedded sample definitions in load order.
func Bundled() ([]*schema.WorkflowDefinition, error) {
	entries, err := fs.ReadDir(bundled, "definitions")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	defs := make([]*schema.WorkflowDefinition, 0, len(names))
	for _, name := range names {
		data, err := bundled.ReadFile(path.Join("definitions", name))
		if err != nil {
			return nil, err
		}
		def, err := Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Load creates and activates every bundled definition whose name is not
// already taken. Existing definitions are left untouched, so Load can run
// on every start.
func Load(ctx context.Context, defs Definitions, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bundle, err := Bundled()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	ids := make(map[string]string, len(bundle))
	for _, def := range bundle {
		existing, err := defs.DefinitionByName(ctx, def.Name)
		switch {
		case err == nil:
			ids[def.Name] = existing.ID
			res.Skipped = append(res.Skipped, def.Name)
			continue
		case !schema.IsNotFound(err):
			return res, fmt.Errorf("lookup %s: %w", def.Name, err)
		}

		if err := resolveRefs(def, ids); err != nil {
			return res, err
		}
		created, err := defs.CreateDefinition(ctx, def)
		if err != nil {
			return res, fmt.Errorf("create %s: %w", def.Name, err)
		}
		if err := defs.SetDefinitionStatus(ctx, created.ID, schema.DefinitionActive); err != nil {
			return res, fmt.Errorf("activate %s: %w", def.Name, err)
		}
		ids[def.Name] = created.ID
		res.Created = append(res.Created, def.Name)
		logger.InfoContext(ctx, "seeded workflow definition",
			slog.String("name", def.Name), slog.String("workflow_id", created.ID))
	}
	return res, nil
}

// resolveRefs rewrites "$ref:<name>" step parameters to definition ids.
func resolveRefs(def *schema.WorkflowDefinition, ids map[string]string) error {
	for i := range def.Steps {
		for k, v := range def.Steps[i].Parameters {
			s, ok := v.(string)
			if !ok || !strings.HasPrefix(s, refPrefix) {
				continue
			}
			name := strings.TrimPrefix(s, refPrefix)
			id, ok := ids[name]
			if !ok {
				return errors.New("definition " + def.Name + " references unknown definition " + name)
			}
			def.Steps[i].Parameters[k] = id
		}
	}
	return nil
}
