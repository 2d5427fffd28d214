package plan

import (
	"bytes"
	"fmt"
	"strconv"
	"text/template"

	"github.com/cuemby/airbyte-operator/pkg/config"
	"github.com/cuemby/airbyte-operator/pkg/types"
)

const (
	// FlagsPath is where the workload launcher reads its feature flags
	FlagsPath = "/flags/flags.yaml"

	// SweepScriptPath is the helper the pod sweeper runs on each pass
	SweepScriptPath = "/airbyte-app/bin/sweep-pod.sh"
)

var flagsTemplate = template.Must(template.New("flags").Parse(`flags:
{{- with .HeartbeatMaxSeconds}}
  - name: heartbeat-max-seconds-between-messages
    serve: "{{.}}"
{{- end}}
{{- with .HeartbeatFailSync}}
  - name: heartbeat.failSync
    serve: {{.}}
{{- end}}
{{- if .DestinationTimeout}}
  - name: destination-timeout-enabled
    serve: true
{{- end}}
{{- with .DestinationTimeoutSeconds}}
  - name: destination-timeout.seconds
    serve: "{{.}}"
{{- end}}
{{- with .DestinationTimeoutFailSync}}
  - name: destination-timeout.failSync
    serve: {{.}}
{{- end}}
`))

// flagValues holds rendered values; an empty string means unset
type flagValues struct {
	HeartbeatMaxSeconds        string
	HeartbeatFailSync          string
	DestinationTimeout         bool
	DestinationTimeoutSeconds  string
	DestinationTimeoutFailSync string
}

// RenderFlags renders the feature-flags file from the heartbeat and
// destination-timeout options. Options left unset are omitted.
func RenderFlags(cfg *config.Config) (string, error) {
	v := flagValues{
		HeartbeatMaxSeconds:        optInt(cfg.HeartbeatMaxSecondsBetweenMessages),
		HeartbeatFailSync:          optBool(cfg.HeartbeatFailSync),
		DestinationTimeout:         cfg.DestinationTimeoutMaxSeconds != nil || cfg.DestinationTimeoutFailSync != nil,
		DestinationTimeoutSeconds:  optInt(cfg.DestinationTimeoutMaxSeconds),
		DestinationTimeoutFailSync: optBool(cfg.DestinationTimeoutFailSync),
	}

	var buf bytes.Buffer
	if err := flagsTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("failed to render feature flags: %w", err)
	}
	return buf.String(), nil
}

const sweepScript = `#!/bin/bash
# Deletes finished job pods once they outlive their TTL.
set -u

get_job_pods() {
  kubectl -n "${JOB_KUBE_NAMESPACE}" get pods \
    -l airbyte=job-pod \
    -o=jsonpath='{range .items[*]} {.metadata.name} {.status.phase} {.status.conditions[0].lastTransitionTime} {.status.startTime}{"\n"}{end}'
}

delete_pod() {
  printf "%s deleting pod %s, status %s, started %s\n" "$(date -u)" "$1" "$2" "$3"
  kubectl -n "${JOB_KUBE_NAMESPACE}" delete pod "$1"
}

while true; do
  now=$(date -u +%s)
  running_cutoff=$((now - ${RUNNING_TTL_MINUTES} * 60))
  succeeded_cutoff=$((now - ${SUCCEEDED_TTL_MINUTES} * 60))
  unsuccessful_cutoff=$((now - ${UNSUCCESSFUL_TTL_MINUTES} * 60))

  get_job_pods | while read -r pod status transition started; do
    [ -z "${pod}" ] && continue
    changed=$(date -u -d "${transition:-$started}" +%s 2>/dev/null || echo "${now}")
    case "${status}" in
      Running) [ "${changed}" -lt "${running_cutoff}" ] && delete_pod "${pod}" "${status}" "${started}" ;;
      Succeeded) [ "${changed}" -lt "${succeeded_cutoff}" ] && delete_pod "${pod}" "${status}" "${started}" ;;
      Failed) [ "${changed}" -lt "${unsuccessful_cutoff}" ] && delete_pod "${pod}" "${status}" "${started}" ;;
    esac
  done

  sleep 60
done
`

// filesFor returns the artifacts a process needs on disk before it starts
func filesFor(name string, cfg *config.Config) ([]types.File, error) {
	switch name {
	case PodSweeper:
		return []types.File{{Path: SweepScriptPath, Content: sweepScript, Mode: 0o755}}, nil
	case WorkloadLauncher:
		if !cfg.FeatureFlagsEnabled() {
			return nil, nil
		}
		flags, err := RenderFlags(cfg)
		if err != nil {
			return nil, err
		}
		return []types.File{{Path: FlagsPath, Content: flags, Mode: 0o644}}, nil
	}
	return nil, nil
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
