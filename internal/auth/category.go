package auth

import (
	"sort"
	"strings"
)

// Category is the admin panel tab a permission is shown under.
type Category string

const (
	CategoryPages     Category = "pages"
	CategoryWidgets   Category = "widgets"
	CategoryResources Category = "resources"
	CategoryOther     Category = "other"
)

var resourceActions = []string{"create", "update", "delete", "view", "restore", "force", "activate", "deactivate"}

// actionOrder lists resource actions in display order.
var actionOrder = []string{
	"view", "view_any", "create", "update", "restore", "restore_any",
	"delete", "delete_any", "force_delete", "force_delete_any",
}

// Categorize classifies a permission name by substring convention.
func Categorize(name string) Category {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "page"):
		return CategoryPages
	case strings.Contains(lower, "widget"):
		return CategoryWidgets
	}
	for _, action := range resourceActions {
		if strings.Contains(lower, action) {
			return CategoryResources
		}
	}
	return CategoryOther
}

// CategorizedPermissions groups permissions by Category.
type CategorizedPermissions map[Category][]Permission

// CategorizeAll buckets perms preserving input order inside each bucket.
func CategorizeAll(perms []Permission) CategorizedPermissions {
	out := CategorizedPermissions{
		CategoryPages:     {},
		CategoryWidgets:   {},
		CategoryResources: {},
		CategoryOther:     {},
	}
	for _, p := range perms {
		c := Categorize(p.Name)
		out[c] = append(out[c], p)
	}
	return out
}

// ModelGroup is the set of resource permissions for one model, e.g. User.
type ModelGroup struct {
	Model       string       `json:"model"`
	Permissions []Permission `json:"permissions"`
}

// GroupByModel groups resource permissions by the model they act on, sorted by
// model name, with actions in display order.
func GroupByModel(perms []Permission) []ModelGroup {
	groups := make(map[string][]Permission)
	for _, p := range perms {
		if Categorize(p.Name) != CategoryResources {
			continue
		}
		model := ModelName(p.Name)
		groups[model] = append(groups[model], p)
	}
	out := make([]ModelGroup, 0, len(groups))
	for model, list := range groups {
		sort.SliceStable(list, func(i, j int) bool {
			return actionRank(list[i].Name) < actionRank(list[j].Name)
		})
		out = append(out, ModelGroup{Model: model, Permissions: list})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// ModelName strips the action prefix and capitalizes the remainder:
// "force_delete_any_user" becomes "User".
func ModelName(name string) string {
	action := actionOf(name)
	rest := strings.TrimPrefix(strings.ToLower(name), action)
	rest = strings.Trim(rest, "_")
	if rest == "" {
		return "Other"
	}
	parts := strings.Split(rest, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, "")
}

// actionOf returns the longest known action prefix of name.
func actionOf(name string) string {
	lower := strings.ToLower(name)
	best := ""
	for _, action := range actionOrder {
		if strings.HasPrefix(lower, action+"_") && len(action) > len(best) {
			best = action
		}
	}
	if best == "" {
		for _, action := range resourceActions {
			if strings.HasPrefix(lower, action+"_") {
				return action
			}
		}
	}
	return best
}

func actionRank(name string) int {
	action := actionOf(name)
	for i, a := range actionOrder {
		if a == action {
			return i
		}
	}
	return len(actionOrder)
}
