package entgen

import (
	"errors"
	"fmt"
	"go/types"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/tools/go/packages"
)

// Sources are type checked, so a package with errors still yields its types.
const loadMode = packages.NeedName | packages.NeedFiles | packages.NeedImports | packages.NeedSyntax | packages.NeedTypes

// Generate loads the configured package and writes its entity file next to its sources,
// returning the path written.
func Generate(cfg *Config, logger zerolog.Logger) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid config: %w", err)
	}

	pkgs, err := packages.Load(&packages.Config{Mode: loadMode, Dir: cfg.Dir}, cfg.Package)
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", cfg.Package, err)
	}
	if len(pkgs) != 1 {
		return "", fmt.Errorf("pattern %s matched %d packages, expected 1", cfg.Package, len(pkgs))
	}
	pkg := pkgs[0]
	// A stale generated file can break type checking, while the entity types stay usable.
	for _, e := range pkg.Errors {
		logger.Warn().Str("package", pkg.PkgPath).Msg(e.Error())
	}
	if pkg.Types == nil || len(pkg.GoFiles) == 0 {
		return "", fmt.Errorf("package %s has no usable sources", cfg.Package)
	}

	models, err := Models(pkg.Types, cfg.Entities)
	if err != nil {
		return "", err
	}
	for _, m := range models {
		logger.Info().
			Str("type", m.Name).
			Str("table", m.Table).
			Int("fields", len(m.Fields)).
			Msg("entity")
	}

	f, err := Emit(pkg.PkgPath, pkg.Name, models)
	if err != nil {
		return "", err
	}
	out := filepath.Join(filepath.Dir(pkg.GoFiles[0]), cfg.Output)
	if err := f.Save(out); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", out, err)
	}
	return out, nil
}

// Models builds the model of every configured entity found in pkg.
func Models(pkg *types.Package, entities []EntityConfig) ([]*Model, error) {
	var errs []error
	models := make([]*Model, 0, len(entities))
	for _, ec := range entities {
		tn, ok := pkg.Scope().Lookup(ec.Type).(*types.TypeName)
		if !ok {
			errs = append(errs, fmt.Errorf("type %s not found in %s", ec.Type, pkg.Path()))
			continue
		}
		named, ok := tn.Type().(*types.Named)
		if !ok {
			errs = append(errs, fmt.Errorf("%s is not a named type", ec.Type))
			continue
		}
		m, err := NewModel(named, ec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		models = append(models, m)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return models, nil
}
