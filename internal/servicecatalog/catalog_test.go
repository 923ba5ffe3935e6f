package servicecatalog_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	faketesting "k8s.io/utils/clock/testing"

	"github.com/scalepilot/autoscale/internal/clockutil"
	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/servicecatalog"
)

type fakeK8sClient struct {
	services []corev1.Service
	listErr  error
}

func (f *fakeK8sClient) ListServices(ctx context.Context, namespace, labelSelector string) ([]corev1.Service, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.services, nil
}

func (f *fakeK8sClient) Health(ctx context.Context) error { return nil }
func (f *fakeK8sClient) Close() error                     { return nil }

func serviceWithEndpointOverride(name, serviceName, region, endpoint string) corev1.Service {
	return corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "autoscale",
			Annotations: map[string]string{
				"autoscale.io/service-name": serviceName,
				"autoscale.io/region":       region,
				"autoscale.io/endpoint":     endpoint,
			},
		},
	}
}

func TestCatalog_RefreshThenEndpointResolves(t *testing.T) {
	ctx := context.Background()
	client := &fakeK8sClient{services: []corev1.Service{
		serviceWithEndpointOverride("nova-dfw", "cloudServersOpenStack", "DFW", "http://nova.dfw.internal:8774"),
		serviceWithEndpointOverride("clb-dfw", "cloudLoadBalancers", "DFW", "http://clb.dfw.internal:8080"),
	}}

	cat, err := servicecatalog.New(client, clockutil.Real, servicecatalog.Config{}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	require.NoError(t, cat.Refresh(ctx))
	assert.Equal(t, 2, cat.EntryCount())

	endpoint, err := cat.Endpoint(ctx, "cloudServersOpenStack", "DFW")
	require.NoError(t, err)
	assert.Equal(t, "http://nova.dfw.internal:8774", endpoint)

	// cached on the fast path now; a second call must still resolve.
	endpoint, err = cat.Endpoint(ctx, "cloudServersOpenStack", "DFW")
	require.NoError(t, err)
	assert.Equal(t, "http://nova.dfw.internal:8774", endpoint)
}

func TestCatalog_UnknownPairReturnsNoEndpointError(t *testing.T) {
	ctx := context.Background()
	client := &fakeK8sClient{}
	cat, err := servicecatalog.New(client, clockutil.Real, servicecatalog.Config{}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NoError(t, cat.Refresh(ctx))

	_, err = cat.Endpoint(ctx, "cloudServersOpenStack", "ORD")
	var noEndpoint *core.NoEndpointError
	require.ErrorAs(t, err, &noEndpoint)
	assert.Equal(t, "cloudServersOpenStack", noEndpoint.ServiceName)
	assert.Equal(t, "ORD", noEndpoint.Region)
}

func TestCatalog_SkipsServiceMissingRequiredAnnotations(t *testing.T) {
	ctx := context.Background()
	client := &fakeK8sClient{services: []corev1.Service{
		{ObjectMeta: metav1.ObjectMeta{Name: "broken", Namespace: "autoscale"}},
		serviceWithEndpointOverride("nova-dfw", "cloudServersOpenStack", "DFW", "http://nova.dfw.internal:8774"),
	}}
	cat, err := servicecatalog.New(client, clockutil.Real, servicecatalog.Config{}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	require.NoError(t, cat.Refresh(ctx))
	assert.Equal(t, 1, cat.EntryCount())
}

func TestCatalog_StartRefreshesPeriodically(t *testing.T) {
	fc := faketesting.NewFakeClock(time.Now())
	client := &fakeK8sClient{}
	cat, err := servicecatalog.New(client, clockutil.Wrap(fc), servicecatalog.Config{
		RefreshInterval: time.Minute,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	ctx := context.Background()
	cat.Start(ctx)
	t.Cleanup(cat.Stop)

	require.Eventually(t, func() bool {
		return cat.EntryCount() == 0
	}, time.Second, 5*time.Millisecond)

	client.services = []corev1.Service{
		serviceWithEndpointOverride("nova-dfw", "cloudServersOpenStack", "DFW", "http://nova.dfw.internal:8774"),
	}
	fc.Step(time.Minute)

	require.Eventually(t, func() bool {
		return cat.EntryCount() == 1
	}, time.Second, 5*time.Millisecond)
}
