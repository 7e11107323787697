// Package kube implements the inspection orchestrator against a
// Kubernetes cluster running Argo Workflows.
package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/stackinspect/inspectd/internal/inspection"
)

// WorkflowResource locates the Argo Workflow custom resource.
var WorkflowResource = schema.GroupVersionResource{
	Group:    "argoproj.io",
	Version:  "v1alpha1",
	Resource: "workflows",
}

const maxLogBytes = 2000000

// Config controls cluster access for the orchestrator client.
type Config struct {
	// Namespace inspection workflows, builds and jobs live in.
	Namespace string
	// Kubeconfig is an explicit kubeconfig path; empty means in-cluster
	// configuration with a fallback to the default loading rules.
	Kubeconfig string
}

// Client talks to the cluster. It implements inspection.Orchestrator.
type Client struct {
	kube      kubernetes.Interface
	dynamic   dynamic.Interface
	namespace string
	logger    *zap.Logger
}

// New builds a Client from the cluster configuration.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("kubernetes.namespace is required")
	}
	restCfg, err := loadRESTConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("load kubernetes config: %w", err)
	}
	kubeClient, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	dynClient, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create dynamic client: %w", err)
	}
	return NewWithClients(kubeClient, dynClient, cfg.Namespace, logger), nil
}

// NewWithClients wires a Client from existing clientsets (primarily for
// testing with fakes).
func NewWithClients(kubeClient kubernetes.Interface, dynClient dynamic.Interface, namespace string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		kube:      kubeClient,
		dynamic:   dynClient,
		namespace: namespace,
		logger:    logger,
	}
}

func loadRESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	cfg, err := rest.InClusterConfig()
	if err == rest.ErrNotInCluster {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		overrides := &clientcmd.ConfigOverrides{}
		return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	}
	return cfg, err
}

// ScheduleInspection submits one inspection workflow and returns its
// name, which serves as the authoritative inspection identifier.
func (c *Client) ScheduleInspection(ctx context.Context, req inspection.ScheduleRequest) (string, error) {
	specJSON, err := json.Marshal(req.Specification)
	if err != nil {
		return "", fmt.Errorf("marshal specification: %w", err)
	}

	parameters := []any{
		map[string]any{"name": "dockerfile", "value": req.Dockerfile},
		map[string]any{"name": "specification", "value": string(specJSON)},
	}
	extra := make([]string, 0, len(req.Parameters))
	for name := range req.Parameters {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		parameters = append(parameters, map[string]any{"name": name, "value": req.Parameters[name]})
	}

	template := req.Target
	if req.UseHardwareTemplate {
		template += "-hw"
	}

	wf := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": WorkflowResource.Group + "/" + WorkflowResource.Version,
		"kind":       "Workflow",
		"metadata": map[string]any{
			"name":      req.InspectionID,
			"namespace": c.namespace,
			"labels": map[string]any{
				"inspection_id": req.InspectionID,
			},
		},
		"spec": map[string]any{
			"workflowTemplateRef": map[string]any{"name": template},
			"arguments":           map[string]any{"parameters": parameters},
		},
	}}

	created, err := c.dynamic.Resource(WorkflowResource).Namespace(c.namespace).Create(ctx, wf, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("create workflow: %w", err)
	}
	c.logger.Info("inspection workflow scheduled",
		zap.String("workflow", created.GetName()),
		zap.String("template", template),
	)
	return created.GetName(), nil
}

// GetWorkflow finds the workflow labeled with the given inspection ID
// and returns its status and stored template arguments.
func (c *Client) GetWorkflow(ctx context.Context, inspectionID string) (inspection.Workflow, error) {
	list, err := c.dynamic.Resource(WorkflowResource).Namespace(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "inspection_id=" + inspectionID,
	})
	if err != nil {
		return inspection.Workflow{}, fmt.Errorf("list workflows: %w", err)
	}
	if len(list.Items) == 0 {
		return inspection.Workflow{}, fmt.Errorf("workflow for inspection %q: %w", inspectionID, inspection.ErrNotFound)
	}
	obj := list.Items[0]

	wf := inspection.Workflow{Name: obj.GetName()}

	if status, found, err := unstructured.NestedMap(obj.Object, "status"); err == nil && found {
		wf.Status = status
	}

	rawParams, found, err := unstructured.NestedSlice(obj.Object, "spec", "arguments", "parameters")
	if err == nil && found {
		for _, raw := range rawParams {
			p, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			name, _ := p["name"].(string)
			value, _ := p["value"].(string)
			wf.Parameters = append(wf.Parameters, inspection.WorkflowParameter{Name: name, Value: value})
		}
	}

	return wf, nil
}

// GetPodLog fetches the log of one pod, capped at maxLogBytes.
func (c *Client) GetPodLog(ctx context.Context, podName string) (string, error) {
	// The typed fake does not surface missing pods through GetLogs, and
	// a Get keeps the not-found contract explicit either way.
	if _, err := c.kube.CoreV1().Pods(c.namespace).Get(ctx, podName, metav1.GetOptions{}); err != nil {
		return "", translateError(fmt.Sprintf("get pod %q", podName), err)
	}

	limit := int64(maxLogBytes)
	req := c.kube.CoreV1().Pods(c.namespace).GetLogs(podName, &corev1.PodLogOptions{
		LimitBytes: &limit,
	})
	raw, err := req.Do(ctx).Raw()
	if err != nil {
		return "", translateError(fmt.Sprintf("get pod log %q", podName), err)
	}
	return string(raw), nil
}

// GetPodStatusReport digests the state of a pod's first container.
func (c *Client) GetPodStatusReport(ctx context.Context, podName string) (inspection.StatusReport, error) {
	pod, err := c.kube.CoreV1().Pods(c.namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		return nil, translateError(fmt.Sprintf("get pod %q", podName), err)
	}

	report := inspection.StatusReport{
		"state": strings.ToLower(string(pod.Status.Phase)),
	}
	if len(pod.Status.ContainerStatuses) == 0 {
		return report, nil
	}

	state := pod.Status.ContainerStatuses[0].State
	switch {
	case state.Terminated != nil:
		report["state"] = "terminated"
		report["exit_code"] = int(state.Terminated.ExitCode)
		report["reason"] = state.Terminated.Reason
		report["started_at"] = formatTime(state.Terminated.StartedAt.Time)
		report["finished_at"] = formatTime(state.Terminated.FinishedAt.Time)
	case state.Running != nil:
		report["state"] = "running"
		report["started_at"] = formatTime(state.Running.StartedAt.Time)
	case state.Waiting != nil:
		report["state"] = "waiting"
		report["reason"] = state.Waiting.Reason
	}
	return report, nil
}

// GetJobStatusReport digests the status of the batch job backing an
// inspection run.
func (c *Client) GetJobStatusReport(ctx context.Context, jobName string) (inspection.StatusReport, error) {
	job, err := c.kube.BatchV1().Jobs(c.namespace).Get(ctx, jobName, metav1.GetOptions{})
	if err != nil {
		return nil, translateError(fmt.Sprintf("get job %q", jobName), err)
	}

	state := "running"
	switch {
	case job.Status.Succeeded > 0:
		state = "succeeded"
	case job.Status.Failed > 0:
		state = "failed"
	}
	report := inspection.StatusReport{
		"state":     state,
		"active":    int(job.Status.Active),
		"succeeded": int(job.Status.Succeeded),
		"failed":    int(job.Status.Failed),
	}
	if job.Status.StartTime != nil {
		report["start_time"] = formatTime(job.Status.StartTime.Time)
	}
	if job.Status.CompletionTime != nil {
		report["completion_time"] = formatTime(job.Status.CompletionTime.Time)
	}
	return report, nil
}

// GetJobPodIDs lists the pods spawned for a batch job.
func (c *Client) GetJobPodIDs(ctx context.Context, jobName string) ([]string, error) {
	pods, err := c.kube.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + jobName,
	})
	if err != nil {
		return nil, fmt.Errorf("list pods for job %q: %w", jobName, err)
	}
	if len(pods.Items) == 0 {
		return nil, fmt.Errorf("pods for job %q: %w", jobName, inspection.ErrNotFound)
	}
	ids := make([]string, 0, len(pods.Items))
	for _, pod := range pods.Items {
		ids = append(ids, pod.Name)
	}
	sort.Strings(ids)
	return ids, nil
}

func translateError(op string, err error) error {
	if k8serrors.IsNotFound(err) {
		return fmt.Errorf("%s: %w", op, inspection.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
