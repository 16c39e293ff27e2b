// Package k8s triggers the full-mailbox backfill as a Kubernetes Job, so
// long historical imports run outside the API pod's request path.
package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Client wraps the Kubernetes client for backfill job management.
type Client struct {
	clientset *kubernetes.Clientset
	namespace string
}

// NewClient creates a Kubernetes client. If namespace is empty, defaults to
// "popdesk".
func NewClient(namespace string) (*Client, error) {
	if namespace == "" {
		namespace = "popdesk"
	}

	config, err := getKubeConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &Client{clientset: clientset, namespace: namespace}, nil
}

// getKubeConfig tries in-cluster config first, then the local kubeconfig.
func getKubeConfig() (*rest.Config, error) {
	config, err := rest.InClusterConfig()
	if err == nil {
		return config, nil
	}

	var kubeconfig string
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = filepath.Join(home, ".kube", "config")
	}
	if envKubeconfig := os.Getenv("KUBECONFIG"); envKubeconfig != "" {
		kubeconfig = envKubeconfig
	}

	config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}
	return config, nil
}

// CreateBackfillJob launches a one-shot Job running the sync binary in full
// backfill mode against the shared mailbox.
func (c *Client) CreateBackfillJob(ctx context.Context, jobName, containerImage string) error {
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: c.namespace,
			Labels: map[string]string{
				"app":          "mailbox-backfill",
				"job-type":     "data-import",
				"triggered-by": "api",
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            int32Ptr(3),
			TTLSecondsAfterFinished: int32Ptr(86400),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"app":      "mailbox-backfill",
						"job-type": "data-import",
					},
				},
				Spec: c.buildPodSpec(containerImage),
			},
		},
	}

	_, err := c.clientset.BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// buildPodSpec builds the pod spec for the backfill job.
func (c *Client) buildPodSpec(containerImage string) corev1.PodSpec {
	return corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
		Containers: []corev1.Container{
			{
				Name:    "sync-tickets",
				Image:   containerImage,
				Command: []string{"/app/bin/sync-tickets", "-full"},
				Env: []corev1.EnvVar{
					{
						Name: "DATABASE_URL",
						ValueFrom: &corev1.EnvVarSource{
							SecretKeyRef: &corev1.SecretKeySelector{
								LocalObjectReference: corev1.LocalObjectReference{
									Name: "popdesk-secrets",
								},
								Key: "database-url",
							},
						},
					},
					{
						Name: "OPENAI_API_KEY",
						ValueFrom: &corev1.EnvVarSource{
							SecretKeyRef: &corev1.SecretKeySelector{
								LocalObjectReference: corev1.LocalObjectReference{
									Name: "popdesk-secrets",
								},
								Key: "openai-api-key",
							},
						},
					},
					// Long backfills get a generous budget; incremental
					// passes keep the default.
					{
						Name:  "SYNC_TIMEOUT_SECONDS",
						Value: "3600",
					},
				},
				VolumeMounts: []corev1.VolumeMount{
					{
						Name:      "gmail-credentials",
						MountPath: "/app/secrets",
						ReadOnly:  true,
					},
				},
				Resources: corev1.ResourceRequirements{
					Requests: corev1.ResourceList{
						corev1.ResourceMemory: resourceQuantity("256Mi"),
						corev1.ResourceCPU:    resourceQuantity("250m"),
					},
					Limits: corev1.ResourceList{
						corev1.ResourceMemory: resourceQuantity("1Gi"),
						corev1.ResourceCPU:    resourceQuantity("1000m"),
					},
				},
			},
		},
		Volumes: []corev1.Volume{
			{
				Name: "gmail-credentials",
				VolumeSource: corev1.VolumeSource{
					Secret: &corev1.SecretVolumeSource{
						SecretName: "gmail-oauth-secret",
					},
				},
			},
		},
	}
}

// GetJobStatus gets the status of a backfill job.
func (c *Client) GetJobStatus(ctx context.Context, jobName string) (*batchv1.Job, error) {
	job, err := c.clientset.BatchV1().Jobs(c.namespace).Get(ctx, jobName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// JobStatus reduces a Job's condition to a single word for the dashboard:
// pending, active, succeeded, or failed.
func (c *Client) JobStatus(ctx context.Context, jobName string) (string, error) {
	job, err := c.GetJobStatus(ctx, jobName)
	if err != nil {
		return "", err
	}

	switch {
	case job.Status.Succeeded > 0:
		return "succeeded", nil
	case job.Status.Failed > 0:
		return "failed", nil
	case job.Status.Active > 0:
		return "active", nil
	default:
		return "pending", nil
	}
}

// DeleteJob deletes a backfill job and its pods.
func (c *Client) DeleteJob(ctx context.Context, jobName string) error {
	deletePolicy := metav1.DeletePropagationForeground
	err := c.clientset.BatchV1().Jobs(c.namespace).Delete(ctx, jobName, metav1.DeleteOptions{
		PropagationPolicy: &deletePolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func int32Ptr(i int32) *int32 {
	return &i
}

func resourceQuantity(value string) resource.Quantity {
	qty, err := resource.ParseQuantity(value)
	if err != nil {
		return resource.Quantity{}
	}
	return qty
}
