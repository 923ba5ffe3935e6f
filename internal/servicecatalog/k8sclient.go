// Package servicecatalog resolves a (service name, region) pair to the
// endpoint URL the launch/delete worker should call, by watching Kubernetes
// Service objects labeled as catalog entries. Ported from
// internal/infrastructure/publishing's K8s secret-discovery manager, with
// Service objects standing in for Secrets and an annotation-based schema
// standing in for the secret's decoded data fields.
package servicecatalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// K8sClient is the slice of the Kubernetes API the catalog depends on:
// listing Service objects and a liveness check. Defined narrowly so tests
// substitute a fake without a real cluster.
type K8sClient interface {
	ListServices(ctx context.Context, namespace, labelSelector string) ([]corev1.Service, error)
	Health(ctx context.Context) error
	Close() error
}

// ClientConfig configures DefaultK8sClient's retry behavior.
type ClientConfig struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	Logger          *slog.Logger
}

// DefaultClientConfig returns sane production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
		Logger:          slog.Default(),
	}
}

// DefaultK8sClient implements K8sClient with k8s.io/client-go, using
// in-cluster config.
type DefaultK8sClient struct {
	clientset kubernetes.Interface
	cfg       ClientConfig
	logger    *slog.Logger
}

// NewDefaultK8sClient builds a DefaultK8sClient from in-cluster
// configuration and verifies connectivity with one health check.
func NewDefaultK8sClient(cfg ClientConfig) (*DefaultK8sClient, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, &ConnectionError{Op: "load in-cluster config", Err: err}
	}
	restCfg.Timeout = cfg.Timeout

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, &ConnectionError{Op: "build clientset", Err: err}
	}

	client := &DefaultK8sClient{clientset: clientset, cfg: cfg, logger: cfg.Logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service catalog k8s client health check: %w", err)
	}
	return client, nil
}

// ListServices returns every Service in namespace matching labelSelector.
func (c *DefaultK8sClient) ListServices(ctx context.Context, namespace, labelSelector string) ([]corev1.Service, error) {
	var services []corev1.Service
	err := c.retryWithBackoff(ctx, func() error {
		list, err := c.clientset.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{
			LabelSelector: labelSelector,
			Limit:         1000,
		})
		if err != nil {
			return err
		}
		services = list.Items
		if list.Continue != "" {
			c.logger.Warn("service list truncated, pagination not implemented", "namespace", namespace)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list services in %s: %w", namespace, err)
	}
	return services, nil
}

// Health checks API server reachability via a lightweight discovery call.
func (c *DefaultK8sClient) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.clientset.Discovery().ServerVersion(); err != nil {
		return &ConnectionError{Op: "server version", Err: err}
	}
	if healthCtx.Err() != nil {
		return &TimeoutError{Op: "health check", Err: healthCtx.Err()}
	}
	return nil
}

// Close releases the clientset reference.
func (c *DefaultK8sClient) Close() error {
	c.clientset = nil
	return nil
}

func (c *DefaultK8sClient) retryWithBackoff(ctx context.Context, op func() error) error {
	backoff := c.cfg.RetryBackoff
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return &TimeoutError{Op: "retry", Err: ctx.Err()}
		default:
		}

		err := op()
		if err == nil {
			return nil
		}
		if !isRetryable(err) || attempt == c.cfg.MaxRetries {
			return err
		}

		c.logger.Warn("retrying k8s list services", "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return &TimeoutError{Op: "retry backoff", Err: ctx.Err()}
		}
		backoff *= 2
		if backoff > c.cfg.MaxRetryBackoff {
			backoff = c.cfg.MaxRetryBackoff
		}
	}
	return fmt.Errorf("operation failed after %d retries", c.cfg.MaxRetries)
}

func isRetryable(err error) bool {
	if k8serrors.IsTimeout(err) || k8serrors.IsServerTimeout(err) {
		return true
	}
	if k8serrors.IsInternalError(err) || k8serrors.IsServiceUnavailable(err) {
		return true
	}
	if k8serrors.IsTooManyRequests(err) {
		return true
	}
	if k8serrors.IsUnauthorized(err) || k8serrors.IsForbidden(err) || k8serrors.IsNotFound(err) || k8serrors.IsInvalid(err) {
		return false
	}
	return true
}
