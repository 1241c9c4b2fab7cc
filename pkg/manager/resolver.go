package manager

import (
	"github.com/keelworks/keel/pkg/config"
	"github.com/keelworks/keel/pkg/registry"
	"github.com/keelworks/keel/pkg/wire"
)

// resolveDependencies binds a caller's dependency map against a type's
// declared schema. Resolution is eager and one-shot: every target must be
// resolvable now, there is no waiting for components that may appear
// later. Target order within a role is preserved.
//
// The caller holds the manager lock, so tree and instances are stable for
// the duration of the call.
func resolveDependencies(
	tree *config.Tree,
	instances map[string]registry.Component,
	specs []registry.DependencySpec,
	deps config.DependencyMap,
) (map[string][]registry.ResolvedDependency, error) {
	declared := make(map[string]registry.DependencySpec, len(specs))
	for _, s := range specs {
		declared[s.Name] = s
	}

	for role := range deps {
		if _, ok := declared[role]; !ok {
			return nil, errf(wire.StatusUnresolvedDependency,
				"dependency role %q is not declared by the type", role)
		}
	}

	resolved := make(map[string][]registry.ResolvedDependency, len(specs))
	for _, spec := range specs {
		targets := deps[spec.Name]

		if len(targets) == 0 {
			if spec.Required {
				return nil, errf(wire.StatusMissingDependency,
					"required dependency %q is not bound", spec.Name)
			}
			continue
		}
		if len(targets) > 1 && !spec.Multiple {
			return nil, errf(wire.StatusDependencyArity,
				"dependency %q accepts one target, got %d", spec.Name, len(targets))
		}

		bound := make([]registry.ResolvedDependency, 0, len(targets))
		for _, raw := range targets {
			target, err := config.ParseTarget(raw)
			if err != nil {
				return nil, errf(wire.StatusUnresolvedDependency,
					"dependency %q target %q: %v", spec.Name, raw, err)
			}

			if target.Remote() {
				// Remote targets are format-validated only; the
				// remote process is not contacted at admission.
				bound = append(bound, registry.ResolvedDependency{
					Name:    target.Name,
					Address: target.Address,
				})
				continue
			}

			rd, err := resolveLocal(tree, instances, spec, target.Name)
			if err != nil {
				return nil, err
			}
			bound = append(bound, rd)
		}
		resolved[spec.Name] = bound
	}

	return resolved, nil
}

// resolveLocal resolves a local target name against the tree, checking
// that the target exists and has the type the role requires.
func resolveLocal(
	tree *config.Tree,
	instances map[string]registry.Component,
	spec registry.DependencySpec,
	name string,
) (registry.ResolvedDependency, error) {
	var targetType string
	switch {
	case tree.FindProvider(name) != nil:
		targetType = tree.FindProvider(name).Type
	case tree.FindClient(name) != nil:
		targetType = tree.FindClient(name).Type
	default:
		return registry.ResolvedDependency{}, errf(wire.StatusUnresolvedDependency,
			"dependency %q target %q does not exist", spec.Name, name)
	}

	if spec.Type != "" && targetType != spec.Type {
		return registry.ResolvedDependency{}, errf(wire.StatusUnresolvedDependency,
			"dependency %q target %q has type %q, want %q",
			spec.Name, name, targetType, spec.Type)
	}

	return registry.ResolvedDependency{
		Name:     name,
		Instance: instances[name],
	}, nil
}
