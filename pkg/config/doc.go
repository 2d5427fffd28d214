/*
Package config defines the typed, validated configuration handed to every
reconciliation cycle.

Configuration files are YAML or TOML, selected by extension, and are decoded
on top of Default so a file only needs the options it changes. Unknown keys are
rejected. Blank optional strings become unset, and unset optional values are
left out of the generated process environment entirely.

	cfg, err := config.Load("/etc/airbyte-operator/config.yaml")
	if errors.Is(err, config.ErrInvalid) {
		// surfaced verbatim as a blocked status
	}

Validate checks enum membership (log-level, storage-type), non-negative
numeric options (every TTL, worker limit and retry knob), bucket naming and
cross-field consistency. It collects every problem before returning.
*/
package config
