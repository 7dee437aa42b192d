package framework

import (
	"encoding/json"
	"fmt"
)

// MaxConfigBagBytes is the serialized size ceiling for an Agent's
// configuration bag (§3).
const MaxConfigBagBytes = 100 * 1024

// reservedKeys denylists prototype-pollution-style keys that have no
// business appearing in a JSON configuration bag (§3).
var reservedKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// ValidateConfigBag enforces the size and reserved-key invariants at the
// boundary, before any plugin ever sees the bag (per the teacher's Design
// Notes idiom: invariants enforced once at the edge, plugins decode their
// own strongly-typed view afterward).
func ValidateConfigBag(bag map[string]any) error {
	encoded, err := json.Marshal(bag)
	if err != nil {
		return fmt.Errorf("configuration must be JSON-serializable: %w", err)
	}
	if len(encoded) > MaxConfigBagBytes {
		return fmt.Errorf("configuration exceeds %d bytes (got %d)", MaxConfigBagBytes, len(encoded))
	}
	if err := checkReservedKeys(bag); err != nil {
		return err
	}
	return nil
}

func checkReservedKeys(bag map[string]any) error {
	for k, v := range bag {
		if reservedKeys[k] {
			return fmt.Errorf("configuration key %q is reserved", k)
		}
		if nested, ok := v.(map[string]any); ok {
			if err := checkReservedKeys(nested); err != nil {
				return err
			}
		}
	}
	return nil
}

// Overlay returns a new bag with override's keys layered on top of base —
// "agent's configuration overlaid with per-run overrides" (§4.2).
func Overlay(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
