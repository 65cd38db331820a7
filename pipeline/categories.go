package pipeline

import (
	"context"

	"dqa360/dhis2"
	"dqa360/utils"

	"github.com/pkg/errors"
)

// categoryResolver maps source category combos onto the local instance.
// Resolution is reuse first: options, categories and the combo itself are
// looked up by code then name before anything is created. Any failure on
// the way falls back to the default combo with a warning - a dataset with
// flattened disaggregations is still usable, a failed run is not.
//
// The caches belong to the resolver instance, so concurrent runs never
// see each other's mappings.
type categoryResolver struct {
	local        API
	source       API
	sameInstance bool
	uids         *UIDGen
	rec          *Recorder
	dataset      string
	resolved     map[string]string
	fetched      map[string]*dhis2.CategoryCombo
}

func newCategoryResolver(local, source API, sameInstance bool, uids *UIDGen, rec *Recorder) *categoryResolver {
	return &categoryResolver{
		local:        local,
		source:       source,
		sameInstance: sameInstance,
		uids:         uids,
		rec:          rec,
		resolved:     make(map[string]string),
		fetched:      make(map[string]*dhis2.CategoryCombo),
	}
}

// Prefetch returns the full hierarchy of a combo, fetching it from the
// source instance when the selection only carried a reference. Results
// are cached for the rest of the run.
func (r *categoryResolver) Prefetch(ctx context.Context, combo *dhis2.CategoryCombo) (*dhis2.CategoryCombo, error) {
	if combo.IsDefault() {
		return combo, nil
	}
	if full, ok := r.fetched[combo.ID]; ok {
		return full, nil
	}
	if hasFullHierarchy(combo) {
		r.fetched[combo.ID] = combo
		return combo, nil
	}
	api := r.source
	if api == nil {
		api = r.local
	}
	full, err := api.GetCategoryCombo(ctx, combo.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch combo hierarchy")
	}
	r.fetched[combo.ID] = full
	return full, nil
}

// Resolve returns the local combo id for the given source combo. The
// second return value reports whether the default combo was substituted.
func (r *categoryResolver) Resolve(ctx context.Context, combo *dhis2.CategoryCombo) (string, bool) {
	if combo.IsDefault() {
		return dhis2.DefaultCategoryComboUID, false
	}
	if id, ok := r.resolved[combo.ID]; ok {
		return id, id == dhis2.DefaultCategoryComboUID
	}
	if r.sameInstance {
		// combo already lives on the destination instance
		r.resolved[combo.ID] = combo.ID
		return combo.ID, false
	}

	id, err := r.resolveHierarchy(ctx, combo)
	if err != nil {
		r.rec.Warn(r.dataset, "category combo %s (%s) could not be resolved, using default: %v",
			combo.Name, combo.ID, err)
		id = dhis2.DefaultCategoryComboUID
	}
	r.resolved[combo.ID] = id
	return id, id == dhis2.DefaultCategoryComboUID
}

func (r *categoryResolver) resolveHierarchy(ctx context.Context, combo *dhis2.CategoryCombo) (string, error) {
	full, err := r.Prefetch(ctx, combo)
	if err != nil {
		return "", err
	}
	if !hasFullHierarchy(full) {
		return "", errors.Errorf("combo %s has no categories", full.ID)
	}

	categoryRefs := make([]dhis2.Ref, 0, len(full.Categories))
	for _, category := range full.Categories {
		categoryID, err := r.resolveCategory(ctx, category)
		if err != nil {
			return "", err
		}
		categoryRefs = append(categoryRefs, dhis2.Ref{ID: categoryID})
	}

	dimensionType := full.DataDimensionType
	if len(dimensionType) == 0 {
		dimensionType = "DISAGGREGATION"
	}
	payload := map[string]interface{}{
		"id":                r.uids.UID(),
		"name":              full.Name,
		"code":              full.Code,
		"dataDimensionType": dimensionType,
		"categories":        categoryRefs,
	}
	return r.ensure(ctx, "categoryCombos", full.Code, full.Name, payload)
}

func (r *categoryResolver) resolveCategory(ctx context.Context, category dhis2.Category) (string, error) {
	optionRefs := make([]dhis2.Ref, 0, len(category.CategoryOptions))
	for _, option := range category.CategoryOptions {
		optionID, err := r.resolveOption(ctx, option)
		if err != nil {
			return "", err
		}
		optionRefs = append(optionRefs, dhis2.Ref{ID: optionID})
	}

	dimensionType := category.DataDimensionType
	if len(dimensionType) == 0 {
		dimensionType = "DISAGGREGATION"
	}
	payload := map[string]interface{}{
		"id":                r.uids.UID(),
		"name":              category.Name,
		"shortName":         utils.TruncateString(firstNonEmpty(category.ShortName, category.Name), 50),
		"code":              category.Code,
		"dataDimensionType": dimensionType,
		"categoryOptions":   optionRefs,
	}
	return r.ensure(ctx, "categories", category.Code, category.Name, payload)
}

func (r *categoryResolver) resolveOption(ctx context.Context, option dhis2.CategoryOption) (string, error) {
	payload := map[string]interface{}{
		"id":        r.uids.UID(),
		"name":      option.Name,
		"shortName": utils.TruncateString(firstNonEmpty(option.ShortName, option.Name), 50),
		"code":      option.Code,
	}
	return r.ensure(ctx, "categoryOptions", option.Code, option.Name, payload)
}

// ensure finds an existing object by code then name, creating it only when
// neither matches. A create conflict that names the existing object is a
// reuse, not an error.
func (r *categoryResolver) ensure(ctx context.Context, resource, code, name string, payload interface{}) (string, error) {
	if len(code) > 0 {
		if id, err := r.local.FindIDByCode(ctx, resource, code); err == nil && len(id) > 0 {
			return id, nil
		}
	}
	if id, err := r.local.FindIDByName(ctx, resource, name); err == nil && len(id) > 0 {
		return id, nil
	}
	id, err := r.local.CreateObject(ctx, resource, payload)
	if err != nil {
		conflict := &dhis2.ConflictError{}
		if errors.As(err, &conflict) && len(conflict.ExistingID) > 0 {
			return conflict.ExistingID, nil
		}
		return "", errors.Wrapf(err, "failed to create %s %q", resource, name)
	}
	return id, nil
}

func hasFullHierarchy(combo *dhis2.CategoryCombo) bool {
	if combo == nil || len(combo.Categories) == 0 {
		return false
	}
	for _, category := range combo.Categories {
		if len(category.CategoryOptions) == 0 {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if len(v) > 0 {
			return v
		}
	}
	return ""
}
