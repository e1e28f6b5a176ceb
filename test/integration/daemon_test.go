// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

//go:build integration

package integration

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/resetd/resetd/internal/client"
	"github.com/resetd/resetd/internal/directory"
	"github.com/resetd/resetd/internal/protocol"
	"github.com/resetd/resetd/internal/server"
	"github.com/resetd/resetd/internal/service"
	"github.com/resetd/resetd/internal/store/sqlite"
	"github.com/resetd/resetd/internal/wire"
)

// daemonEnv is one running daemon over a loopback listener.
type daemonEnv struct {
	addr   string
	dir    *directory.Memory
	cancel context.CancelFunc
	done   chan error
}

func startDaemon() (*daemonEnv, error) {
	ctx, cancel := context.WithCancel(context.Background())

	store, err := sqlite.Open(ctx, ":memory:", false)
	if err != nil {
		cancel()
		return nil, err
	}

	dir := directory.NewMemory(nil)
	accounts := []struct {
		acct     directory.Account
		password string
	}{
		{directory.Account{Name: "etagliav", Email: "enrico@example.org", DisplayName: "Enrico Tagliavini"}, "eephie2EQuohngei"},
		{directory.Account{Name: "jdoe", Email: "jdoe@example.org", DisplayName: "Jane Doe"}, "Ohmahca6eigh2oji"},
	}
	for _, a := range accounts {
		if err := dir.AddAccount(a.acct, []byte(a.password)); err != nil {
			cancel()
			return nil, err
		}
	}

	policy := service.DefaultPolicy()
	policy.InvalidCredentialDelay = 0

	svc := service.New(service.Deps{Store: store, Directory: dir}, policy)
	srv := server.New("127.0.0.1:0", svc, wire.Default, nil)

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
		_ = store.Close()
	}()

	var addr string
	Eventually(func() string {
		addr = srv.Addr()
		return addr
	}).WithTimeout(2 * time.Second).ShouldNot(BeEmpty())

	return &daemonEnv{addr: addr, dir: dir, cancel: cancel, done: done}, nil
}

func (e *daemonEnv) stop() {
	e.cancel()
	Eventually(e.done).WithTimeout(2 * time.Second).Should(Receive(BeNil()))
}

var _ = Describe("Daemon end to end", func() {
	var (
		env *daemonEnv
		c   *client.Client
	)

	BeforeEach(func() {
		var err error
		env, err = startDaemon()
		Expect(err).NotTo(HaveOccurred())

		c, err = client.Dial(context.Background(), env.addr, wire.Default)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if c != nil {
			_ = c.Close()
		}
		env.stop()
	})

	It("echoes a protocol probe", func() {
		echo, err := c.TestProtocol("hello over the wire")
		Expect(err).NotTo(HaveOccurred())
		Expect(echo).To(Equal("hello over the wire"))
	})

	It("runs a full reset workflow on one connection", func() {
		By("creating a request with a generated secret")
		ans, err := c.CreateRequest(protocol.CreateRequest{
			Target:  protocol.Target{Kind: protocol.TargetUsername, Value: "etagliav"},
			Secret:  protocol.AutogenerateSecret,
			Enabled: true,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ans.Status).To(Equal(protocol.StatusAck))
		secret := ans.Text
		Expect(secret).To(HaveLen(64))

		By("listing the stored request")
		requests, listAns, err := c.ListRequests(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(listAns.Status).To(Equal(protocol.StatusAck))
		Expect(requests).To(HaveLen(1))
		Expect(requests[0].AccountName).To(Equal("etagliav"))
		Expect(requests[0].SecretCode).To(Equal(secret))
		Expect(requests[0].Active).To(BeTrue())

		By("redeeming the secret")
		resetAns, err := c.ResetPassword("etagliav", secret, []byte("shie5muQueeRie7l"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resetAns.Status).To(Equal(protocol.StatusAck))

		ok, err := env.dir.VerifyPassword("etagliav", []byte("shie5muQueeRie7l"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		By("rejecting a second redemption of the same secret")
		again, err := c.ResetPassword("etagliav", secret, []byte("aiNg8xohqu1Eeheo"))
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Status).To(Equal(protocol.StatusNak))
		Expect(again.Text).To(Equal("Invalid credentials"))
	})

	It("toggles request activation", func() {
		ans, err := c.CreateRequest(protocol.CreateRequest{
			Target:  protocol.Target{Kind: protocol.TargetUsername, Value: "jdoe"},
			Secret:  protocol.AutogenerateSecret,
			Enabled: true,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ans.Status).To(Equal(protocol.StatusAck))
		secret := ans.Text

		disableAns, err := c.DisableRequest(secret)
		Expect(err).NotTo(HaveOccurred())
		Expect(disableAns.Status).To(Equal(protocol.StatusAck))
		Expect(disableAns.State.Active).To(BeFalse())

		By("refusing to redeem a disabled request")
		resetAns, err := c.ResetPassword("jdoe", secret, []byte("shie5muQueeRie7l"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resetAns.Status).To(Equal(protocol.StatusNak))

		enableAns, err := c.EnableRequest(secret)
		Expect(err).NotTo(HaveOccurred())
		Expect(enableAns.Status).To(Equal(protocol.StatusAck))
		Expect(enableAns.State.Active).To(BeTrue())

		resetAns, err = c.ResetPassword("jdoe", secret, []byte("shie5muQueeRie7l"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resetAns.Status).To(Equal(protocol.StatusAck))
	})

	It("resolves create targets by mail address", func() {
		ans, err := c.CreateRequest(protocol.CreateRequest{
			Target:  protocol.Target{Kind: protocol.TargetEmail, Value: "jdoe@example.org"},
			Secret:  protocol.AutogenerateSecret,
			Enabled: true,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ans.Status).To(Equal(protocol.StatusAck))

		requests, _, err := c.ListRequests(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(requests).To(HaveLen(1))
		Expect(requests[0].AccountName).To(Equal("jdoe"))
	})

	It("reports sendmail outcomes per secret", func() {
		ans, err := c.CreateRequest(protocol.CreateRequest{
			Target:  protocol.Target{Kind: protocol.TargetUsername, Value: "etagliav"},
			Secret:  protocol.AutogenerateSecret,
			Enabled: true,
		})
		Expect(err).NotTo(HaveOccurred())
		secret := ans.Text

		mailAns, err := c.SendEmail("created", []string{secret, "no-such-secret"})
		Expect(err).NotTo(HaveOccurred())
		Expect(mailAns.Status).To(Equal(protocol.StatusAck))
		Expect(mailAns.Email.OK).To(Equal([]string{secret}))
		Expect(mailAns.Email.Failed).To(Equal([]string{"no-such-secret"}))
	})

	It("rejects weak supplied secrets", func() {
		ans, err := c.CreateRequest(protocol.CreateRequest{
			Target:  protocol.Target{Kind: protocol.TargetUsername, Value: "etagliav"},
			Secret:  "tagliavini12",
			Enabled: true,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ans.Status).To(Equal(protocol.StatusNak))
		Expect(ans.Text).To(Equal("Weak secret"))
	})

	It("keeps the session alive across rejected commands", func() {
		ans, err := c.CreateRequest(protocol.CreateRequest{
			Target:  protocol.Target{Kind: protocol.TargetUsername, Value: "nobody"},
			Secret:  protocol.AutogenerateSecret,
			Enabled: true,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ans.Status).To(Equal(protocol.StatusNak))

		echo, err := c.TestProtocol("still here")
		Expect(err).NotTo(HaveOccurred())
		Expect(echo).To(Equal("still here"))
	})
})
