// Package template provides the Device Template Catalog for Solar Fleet Core.
//
// Templates describe classes of field devices (inverters, string combiners,
// weather stations). Each carries a globally unique shortform that prefixes
// every generated device identifier, plus the ordered tag blueprints cloned
// onto new devices.
//
// The catalog also owns the Hierarchy Rules: the allow-list of which child
// template types may attach under which parent template types. A nil parent
// in a rule sanctions attachment at the plant root. The model is strictly
// deny-by-default — no rule, no attachment, root included.
package template
