package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/serverkit/installer/internal/service"
	"github.com/serverkit/installer/internal/store/model"
)

type proberFunc func(ctx context.Context, cfg model.DatabaseConfig) error

func (f proberFunc) Probe(ctx context.Context, cfg model.DatabaseConfig) error {
	return f(ctx, cfg)
}

var _ = Describe("connectivity service", func() {
	It("reports a successful probe", func() {
		var probed model.DatabaseConfig
		srv := service.NewConnectivityService(proberFunc(func(_ context.Context, cfg model.DatabaseConfig) error {
			probed = cfg
			return nil
		}))

		result, err := srv.Test(context.TODO(), installConfig().Database)
		Expect(err).To(BeNil())
		Expect(result.Success).To(BeTrue())
		Expect(probed.Host).To(Equal("localhost"))
	})

	It("reports a failing probe without leaking passwords", func() {
		srv := service.NewConnectivityService(proberFunc(func(context.Context, model.DatabaseConfig) error {
			return errors.New(`connecting to localhost as postgres: password "rootsecret" rejected`)
		}))

		result, err := srv.Test(context.TODO(), installConfig().Database)
		Expect(err).To(BeNil())
		Expect(result.Success).To(BeFalse())
		Expect(result.Message).To(HavePrefix("Database connection failed: "))
		Expect(result.Message).ToNot(ContainSubstring("rootsecret"))
	})

	It("rejects invalid input before probing", func() {
		called := false
		srv := service.NewConnectivityService(proberFunc(func(context.Context, model.DatabaseConfig) error {
			called = true
			return nil
		}))

		cfg := installConfig().Database
		cfg.Name = "app; drop"
		_, err := srv.Test(context.TODO(), cfg)
		Expect(err).To(BeAssignableToTypeOf(&service.ErrSubmission{}))

		_, err = srv.Test(context.TODO(), nil)
		Expect(err).To(BeAssignableToTypeOf(&service.ErrSubmission{}))
		Expect(called).To(BeFalse())
	})
})
