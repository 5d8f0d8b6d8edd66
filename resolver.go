package schemacodec

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReferenceResolver inlines `{$ref: "path#/fragment", rename?, prefix?}` and
// `{use: "std/sensors/temp"}` entries found among a raw schema tree's field
// list, searching a schema's own directory first and then a configured list
// of library roots. It is pure: Resolve never mutates its input, and its
// path/fragment cache is scoped to a single call, matching the "no process-
// wide cache" resource model.
type ReferenceResolver struct {
	Roots []string

	docCache map[string]map[string]any
	stack    map[string]bool
}

// NewReferenceResolver builds a resolver that searches roots, in order, for
// a reference's file path when it isn't already absolute or relative to the
// referencing document.
func NewReferenceResolver(roots ...string) *ReferenceResolver {
	return &ReferenceResolver{Roots: roots}
}

// Resolve returns a copy of doc with every reference entry under "fields"
// (recursively, including nested field lists inside object/match/tlv/
// flagged/byte_group constructs) spliced in place. baseDir anchors relative
// $ref paths; pass "" to search only the configured roots.
func (r *ReferenceResolver) Resolve(doc map[string]any, baseDir string) (map[string]any, error) {
	r.docCache = make(map[string]map[string]any)
	r.stack = make(map[string]bool)

	out := deepCopyMap(doc)
	if fields, ok := out["fields"].([]any); ok {
		resolved, err := r.resolveFieldList(fields, baseDir)
		if err != nil {
			return nil, err
		}
		out["fields"] = resolved
	}
	if ports, ok := out["ports"].(map[string]any); ok {
		for k, v := range ports {
			list, ok := v.([]any)
			if !ok {
				continue
			}
			resolved, err := r.resolveFieldList(list, baseDir)
			if err != nil {
				return nil, err
			}
			ports[k] = resolved
		}
	}
	return out, nil
}

func (r *ReferenceResolver) resolveFieldList(fields []any, baseDir string) ([]any, error) {
	var out []any
	for _, raw := range fields {
		entry, ok := raw.(map[string]any)
		if !ok {
			out = append(out, raw)
			continue
		}

		if isReferenceEntry(entry) {
			sub, err := r.resolveOne(entry, baseDir)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}

		resolved, err := r.resolveNestedLists(entry, baseDir)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func isReferenceEntry(entry map[string]any) bool {
	_, hasRef := entry["$ref"]
	_, hasUse := entry["use"]
	return hasRef || hasUse
}

// resolveNestedLists walks the known structural-construct shapes for any
// field list that itself might contain references.
func (r *ReferenceResolver) resolveNestedLists(entry map[string]any, baseDir string) (map[string]any, error) {
	entry = deepCopyMap(entry)

	if list, ok := entry["fields"].([]any); ok {
		resolved, err := r.resolveFieldList(list, baseDir)
		if err != nil {
			return nil, err
		}
		entry["fields"] = resolved
	}

	if match, ok := entry["match"].(map[string]any); ok {
		if err := r.resolveCaseMap(match, baseDir); err != nil {
			return nil, err
		}
	}
	if tlv, ok := entry["tlv"].(map[string]any); ok {
		if err := r.resolveCaseMap(tlv, baseDir); err != nil {
			return nil, err
		}
	}
	if groups, ok := entry["groups"].([]any); ok {
		if err := r.resolveGroupList(groups, baseDir); err != nil {
			return nil, err
		}
	}

	if flagged, ok := entry["flagged"].(map[string]any); ok {
		if groups, ok := flagged["groups"].([]any); ok {
			if err := r.resolveGroupList(groups, baseDir); err != nil {
				return nil, err
			}
		}
	}

	if bg, ok := entry["byte_group"].([]any); ok {
		resolved, err := r.resolveFieldList(bg, baseDir)
		if err != nil {
			return nil, err
		}
		entry["byte_group"] = resolved
	}

	return entry, nil
}

// resolveGroupList resolves the field lists nested in a flagged construct's
// groups, in place.
func (r *ReferenceResolver) resolveGroupList(groups []any, baseDir string) error {
	for _, g := range groups {
		gm, ok := g.(map[string]any)
		if !ok {
			continue
		}
		if list, ok := gm["fields"].([]any); ok {
			resolved, err := r.resolveFieldList(list, baseDir)
			if err != nil {
				return err
			}
			gm["fields"] = resolved
		}
	}
	return nil
}

// resolveCaseMap resolves the field lists nested under a match/tlv
// construct's "cases". Match cases are an ordered []any of {case, fields}
// (first-match-wins needs an order a map can't give), while tlv cases may
// use the same ordered shape or a plain map keyed by tag; both forms are
// accepted here.
func (r *ReferenceResolver) resolveCaseMap(construct map[string]any, baseDir string) error {
	switch cases := construct["cases"].(type) {
	case map[string]any:
		for k, v := range cases {
			list, ok := v.([]any)
			if !ok {
				continue
			}
			resolved, err := r.resolveFieldList(list, baseDir)
			if err != nil {
				return err
			}
			cases[k] = resolved
		}
	case []any:
		for _, raw := range cases {
			cm, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			list, ok := cm["fields"].([]any)
			if !ok {
				continue
			}
			resolved, err := r.resolveFieldList(list, baseDir)
			if err != nil {
				return err
			}
			cm["fields"] = resolved
		}
	}
	return nil
}

// resolveOne resolves a single reference entry to the field-entry list it
// expands to (normally one entry, but a resolved target that is itself a
// field list flattens into its enclosing list).
func (r *ReferenceResolver) resolveOne(entry map[string]any, baseDir string) ([]any, error) {
	path, fragment, err := parseRef(entry)
	if err != nil {
		return nil, err
	}

	resolvedPath, err := r.locate(path, baseDir)
	if err != nil {
		return nil, err
	}

	key := resolvedPath + "#" + fragment
	if r.stack[key] {
		return nil, errCircularReference("circular reference resolving %s", key)
	}
	r.stack[key] = true
	defer delete(r.stack, key)

	doc, err := r.load(resolvedPath)
	if err != nil {
		return nil, err
	}

	target, err := navigateFragment(doc, fragment)
	if err != nil {
		return nil, err
	}

	targetDir := filepath.Dir(resolvedPath)
	var resolvedList []any
	switch t := target.(type) {
	case []any:
		list, err := r.resolveFieldList(t, targetDir)
		if err != nil {
			return nil, err
		}
		resolvedList = list
	case map[string]any:
		if nested, ok := t["fields"].([]any); ok {
			list, err := r.resolveFieldList(nested, targetDir)
			if err != nil {
				return nil, err
			}
			resolvedList = list
		} else {
			resolved, err := r.resolveNestedLists(t, targetDir)
			if err != nil {
				return nil, err
			}
			resolvedList = []any{resolved}
		}
	default:
		return nil, errReferenceBadPointer("reference %s does not resolve to a field or field list", key)
	}

	prefix, _ := entry["prefix"].(string)
	rename := stringMap(entry["rename"])
	applyPrefixAndRename(resolvedList, prefix, rename)

	return resolvedList, nil
}

func parseRef(entry map[string]any) (path, fragment string, err error) {
	if use, ok := entry["use"].(string); ok {
		return use, "", nil
	}
	ref, ok := entry["$ref"].(string)
	if !ok {
		return "", "", errStructural("", "reference entry missing $ref/use")
	}
	parts := strings.SplitN(ref, "#", 2)
	path = parts[0]
	if len(parts) == 2 {
		fragment = parts[1]
	}
	return path, fragment, nil
}

// locate finds a reference path on disk, trying it relative to baseDir
// first, then each configured root in order.
func (r *ReferenceResolver) locate(path, baseDir string) (string, error) {
	candidates := []string{}
	if path != "" {
		if filepath.IsAbs(path) {
			candidates = append(candidates, path)
		} else {
			if baseDir != "" {
				candidates = append(candidates, filepath.Join(baseDir, path))
			}
			for _, root := range r.Roots {
				candidates = append(candidates, filepath.Join(root, path))
				candidates = append(candidates, filepath.Join(root, path+".yaml"))
				candidates = append(candidates, filepath.Join(root, path+".yml"))
			}
		}
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			abs, err := filepath.Abs(c)
			if err != nil {
				return "", errReferenceNotFound("reference path %q could not be made absolute: %v", path, err)
			}
			return abs, nil
		}
	}
	return "", errReferenceNotFound("reference path %q not found under any search root", path)
}

func (r *ReferenceResolver) load(path string) (map[string]any, error) {
	if doc, ok := r.docCache[path]; ok {
		return doc, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errReferenceNotFound("reading %q: %v", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errStructural("", "parsing %q: %v", path, err)
	}
	r.docCache[path] = doc
	return doc, nil
}

// navigateFragment walks a JSON-Pointer-style fragment ("/defs/temp_sensor")
// through nested maps and lists.
func navigateFragment(doc map[string]any, fragment string) (any, error) {
	fragment = strings.TrimPrefix(fragment, "/")
	if fragment == "" {
		return doc["fields"], nil
	}

	var cur any = doc
	for _, tok := range strings.Split(fragment, "/") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[tok]
			if !ok {
				return nil, errReferenceBadPointer("fragment segment %q not found", tok)
			}
			cur = v
		case []any:
			idx := atoi(tok)
			if idx < 0 || idx >= len(node) {
				return nil, errReferenceBadPointer("fragment index %q out of range", tok)
			}
			cur = node[idx]
		default:
			return nil, errReferenceBadPointer("fragment segment %q has no children to navigate", tok)
		}
	}
	return cur, nil
}

// applyPrefixAndRename mutates a resolved field-entry list in place,
// prefixing and renaming every "name" it finds and updating self-references
// ($x, field:/on:/ref: pointing at a renamed field) to match.
func applyPrefixAndRename(list []any, prefix string, rename map[string]string) {
	rewrite := func(name string) string {
		if rename != nil {
			if r, ok := rename[name]; ok {
				name = r
			}
		}
		return prefix + name
	}

	var walk func(node any)
	walk = func(node any) {
		switch v := node.(type) {
		case map[string]any:
			if name, ok := v["name"].(string); ok {
				v["name"] = rewrite(name)
			}
			for _, key := range []string{"on", "field", "var", "ref"} {
				if s, ok := v[key].(string); ok && strings.HasPrefix(s, "$") {
					v[key] = "$" + rewrite(strings.TrimPrefix(s, "$"))
				}
			}
			for _, val := range v {
				walk(val)
			}
		case []any:
			for _, item := range v {
				walk(item)
			}
		}
	}

	if prefix == "" && len(rename) == 0 {
		return
	}
	for _, entry := range list {
		walk(entry)
	}
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyAny(v)
	}
	return out
}

func deepCopyAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyAny(e)
		}
		return out
	default:
		return v
	}
}
