package astra

import (
	"context"
	"encoding/json"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/ajwheeler/astra/util"
	"github.com/pkg/errors"
)

// Input a resolved input reference: either a single data product, an empty slot, or a group of
// nested inputs
type Input struct {
	Product *DataProduct
	Group   []*Input
}

// Products flattens the input into its data products, skipping empty slots
func (in *Input) Products() []*DataProduct {
	if in == nil {
		return nil
	}
	if in.Product != nil {
		return []*DataProduct{in.Product}
	}
	var products []*DataProduct
	for _, child := range in.Group {
		products = append(products, child.Products()...)
	}
	return products
}

const fullPathFiletype = "full"

// ResolveInputs turns input references into data products. refs may be a *DataProduct, a data
// product id (number or numeric string), an existing file path, a JSON encoded list of those, or
// a slice of any of them nested to any depth.
func ResolveInputs(ctx context.Context, store Store, refs interface{}) ([]*Input, error) {
	if refs == nil {
		return nil, nil
	}
	if s, ok := refs.(string); ok {
		if decoded, ok := decodeJSONList(s); ok {
			refs = decoded
		} else {
			in, err := resolveInput(ctx, store, s)
			if err != nil {
				return nil, err
			}
			return []*Input{in}, nil
		}
	}
	if isSequence(refs) {
		v := reflect.ValueOf(refs)
		inputs := make([]*Input, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			in, err := resolveInput(ctx, store, v.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, in)
		}
		return inputs, nil
	}
	in, err := resolveInput(ctx, store, refs)
	if err != nil {
		return nil, err
	}
	return []*Input{in}, nil
}

func decodeJSONList(s string) (interface{}, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var decoded []interface{}
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

func resolveInput(ctx context.Context, store Store, ref interface{}) (*Input, error) {
	switch r := ref.(type) {
	case nil:
		return &Input{}, nil
	case *DataProduct:
		return &Input{Product: r}, nil
	case string:
		if _, err := os.Stat(r); err == nil {
			dp, err := GetOrCreateDataProduct(ctx, store, &DataProduct{
				Filetype: fullPathFiletype,
				Kwargs:   map[string]interface{}{fullPathFiletype: r},
			})
			if err != nil {
				return nil, err
			}
			return &Input{Product: dp}, nil
		}
		if id, err := strconv.ParseInt(strings.TrimSpace(r), 10, 64); err == nil {
			return productByID(ctx, store, id)
		}
		return nil, NewError(ErrCodeInput, "input %q is neither an existing path nor a data product id", r)
	case json.Number:
		id, err := r.Int64()
		if err != nil {
			return nil, NewError(ErrCodeInput, "input %v is not a data product id", r, err)
		}
		return productByID(ctx, store, id)
	}

	v := reflect.ValueOf(ref)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return productByID(ctx, store, v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return productByID(ctx, store, int64(v.Uint()))
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f != float64(int64(f)) {
			return nil, NewError(ErrCodeInput, "input %v is not a data product id", ref)
		}
		return productByID(ctx, store, int64(f))
	case reflect.Slice, reflect.Array:
		group := &Input{Group: make([]*Input, 0, v.Len())}
		for i := 0; i < v.Len(); i++ {
			child, err := resolveInput(ctx, store, v.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			group.Group = append(group.Group, child)
		}
		return group, nil
	}
	return nil, NewError(ErrCodeInput, "unknown input data product type (%T): %v", ref, ref)
}

func productByID(ctx context.Context, store Store, id int64) (*Input, error) {
	dp, err := store.GetDataProduct(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewError(ErrCodeInput, "data product %d does not exist", id, err)
		}
		return nil, err
	}
	return &Input{Product: dp}, nil
}

// unitInputs returns the inputs handed to unit i of a bundle: input i when there is one input per
// task, every input otherwise
func unitInputs(inputs []*Input, i, bundleSize int) []*Input {
	if bundleSize > 1 && len(inputs) == bundleSize {
		return []*Input{inputs[i]}
	}
	return inputs
}

func productIDs(inputs []*Input) []int64 {
	var ids []int64
	for _, in := range inputs {
		for _, dp := range in.Products() {
			ids = append(ids, dp.ID)
		}
	}
	return ids
}

var (
	integerKwargs = []string{"mjd", "fiber", "healpix", "fieldid"}
	stringKwargs  = []string{"apred"}
)

// NormalizeKwargs lower-cases and trims keys, coerces the integer keywords, trims field and
// stringifies apred. The result is what the kwargs hash is computed over.
func NormalizeKwargs(kwargs map[string]interface{}) (map[string]interface{}, error) {
	normalized := make(map[string]interface{}, len(kwargs))
	for k, v := range kwargs {
		normalized[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for _, key := range integerKwargs {
		v, ok := normalized[key]
		if !ok {
			continue
		}
		i, err := toInt64(v)
		if err != nil {
			return nil, NewError(ErrCodeInput, "keyword %v=%v is not an integer", key, v, err)
		}
		normalized[key] = i
	}
	if v, ok := normalized["field"]; ok {
		normalized["field"] = strings.TrimSpace(toString(v))
	}
	for _, key := range stringKwargs {
		if v, ok := normalized[key]; ok {
			normalized[key] = toString(v)
		}
	}
	return normalized, nil
}

// KwargsHash md5 of the JSON encoding of the normalized keywords
func KwargsHash(normalized map[string]interface{}) (string, error) {
	if normalized == nil {
		normalized = map[string]interface{}{}
	}
	data, err := util.JsonString(normalized)
	if err != nil {
		return "", NewError(ErrCodeInput, "encode keywords failed", err)
	}
	return util.MD5(data), nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	case json.Number:
		return n.Int64()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float()), nil
	}
	return 0, errors.Errorf("unsupported type %T", v)
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return util.ToString(v)
}

// GetOrCreateDataProduct returns the stored product with the same release, filetype and
// normalized keywords as dp, creating it when none exists. A concurrent creator winning the
// uniqueness race is resolved by re-fetching.
func GetOrCreateDataProduct(ctx context.Context, store Store, dp *DataProduct) (*DataProduct, error) {
	normalized, err := NormalizeKwargs(dp.Kwargs)
	if err != nil {
		return nil, err
	}
	hash, err := KwargsHash(normalized)
	if err != nil {
		return nil, err
	}
	candidate := &DataProduct{Release: dp.Release, Filetype: dp.Filetype, Kwargs: normalized, KwargsHash: hash}
	existing, err := store.FindDataProduct(ctx, candidate.Release, candidate.Filetype, hash)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err = store.CreateDataProduct(ctx, candidate); err == nil {
		return candidate, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return nil, err
	}
	logger.Debug(ctx, "data product created concurrently, release:%v, filetype:%v, hash:%v", candidate.Release, candidate.Filetype, hash)
	return store.FindDataProduct(ctx, candidate.Release, candidate.Filetype, hash)
}
