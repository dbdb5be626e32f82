package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"studio/internal/domain"
	"studio/internal/providers/runninghub"
)

// BuildInputs maps uploaded assets and request parameters onto the tool's
// workflow slots. Unknown parameters and out-of-range values are rejected.
func BuildInputs(tool ToolConfig, assets map[string]domain.AssetRef, params map[string]any) ([]runninghub.NodeInput, error) {
	for name := range params {
		slot, ok := tool.Slots[name]
		if !ok {
			return nil, invalidInput(fmt.Sprintf("unknown parameter %q", name))
		}
		if slot.Kind == SlotImage {
			return nil, invalidInput(fmt.Sprintf("parameter %q expects an uploaded image", name))
		}
	}
	for name := range assets {
		if slot, ok := tool.Slots[name]; !ok || slot.Kind != SlotImage {
			return nil, invalidInput(fmt.Sprintf("unexpected image %q", name))
		}
	}

	names := make([]string, 0, len(tool.Slots))
	for name := range tool.Slots {
		names = append(names, name)
	}
	sort.Strings(names)

	inputs := make([]runninghub.NodeInput, 0, len(names))
	for _, name := range names {
		slot := tool.Slots[name]
		var (
			value string
			ok    bool
			err   error
		)
		if slot.Kind == SlotImage {
			ref, found := assets[name]
			value, ok = ref.ProviderRef, found && ref.ProviderRef != ""
		} else {
			value, ok, err = slotValue(name, slot, params[name])
			if err != nil {
				return nil, err
			}
		}
		if !ok {
			if slot.Required {
				return nil, invalidInput(fmt.Sprintf("%s is required", name))
			}
			continue
		}
		inputs = append(inputs, runninghub.NodeInput{NodeID: slot.NodeID, FieldName: slot.FieldName, FieldValue: value})
	}
	return inputs, nil
}

func slotValue(name string, slot Slot, raw any) (string, bool, error) {
	if raw == nil || raw == "" {
		raw = slot.Default
	}
	if raw == nil {
		return "", false, nil
	}
	switch slot.Kind {
	case SlotText:
		s, ok := raw.(string)
		if !ok {
			return "", false, invalidInput(fmt.Sprintf("%s must be text", name))
		}
		s = strings.TrimSpace(s)
		return s, s != "", nil
	case SlotSelect:
		s := strings.TrimSpace(fmt.Sprint(raw))
		for _, opt := range slot.Options {
			if s == opt {
				return s, true, nil
			}
		}
		return "", false, invalidInput(fmt.Sprintf("%s must be one of %s", name, strings.Join(slot.Options, ", ")))
	case SlotNumber:
		n, err := toFloat(raw)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return "", false, invalidInput(fmt.Sprintf("%s must be a number", name))
		}
		if slot.Min != nil && n < *slot.Min {
			return "", false, invalidInput(fmt.Sprintf("%s must be at least %s", name, formatNumber(*slot.Min)))
		}
		if slot.Max != nil && n > *slot.Max {
			return "", false, invalidInput(fmt.Sprintf("%s must be at most %s", name, formatNumber(*slot.Max)))
		}
		return formatNumber(n), true, nil
	}
	return "", false, invalidInput(fmt.Sprintf("%s has unsupported kind %q", name, slot.Kind))
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", raw)
	}
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
