// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/identity/internal/auth"
)

var _ = Describe("Account lifecycle over HTTP", Ordered, func() {
	var env *testEnv

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(env.cleanup)
	})

	// awaitLink waits for the dispatcher to deliver a mail and returns the
	// path of its link.
	awaitLink := func(addr, subject string) string {
		var path string
		Eventually(func() bool {
			m, ok := env.outbox.latest(addr, subject)
			if ok {
				path = linkPath(m)
			}
			return ok && path != ""
		}, 5*time.Second, 20*time.Millisecond).Should(BeTrue(), "no %q mail for %s", subject, addr)
		return path
	}

	register := func(email, password, first, last string) response {
		resp, err := env.call(http.MethodPost, "/api/auth/register", map[string]string{
			"email": email, "password": password, "firstName": first, "lastName": last,
		}, "")
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	login := func(email, password string) response {
		resp, err := env.call(http.MethodPost, "/api/auth/login", map[string]string{
			"email": email, "password": password,
		}, "")
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("register, verify, and log in", func() {
		It("issues a session only after the email is verified", func() {
			resp := register("a@x.com", "secret1", "A", "B")
			Expect(resp.status).To(Equal(http.StatusCreated))
			Expect(resp.body).To(HaveKeyWithValue("isVerified", false))
			Expect(resp.body).To(HaveKeyWithValue("email", "a@x.com"))
			Expect(resp.body).NotTo(HaveKey("passwordHash"))

			resp = login("a@x.com", "secret1")
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorMessages()).To(ConsistOf("Email not verified"))

			verifyPath := awaitLink("a@x.com", auth.SubjectVerification)
			Expect(verifyPath).To(HavePrefix("/api/auth/verify/"))

			resp, err := env.call(http.MethodGet, verifyPath, nil, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.body).To(HaveKeyWithValue("message", "Email verified"))

			resp = login("a@x.com", "secret1")
			Expect(resp.status).To(Equal(http.StatusOK))
			token, _ := resp.body["token"].(string)
			Expect(token).NotTo(BeEmpty())

			parts := strings.Split(token, ".")
			Expect(parts).To(HaveLen(3))
			payload, err := base64.RawURLEncoding.DecodeString(parts[1])
			Expect(err).NotTo(HaveOccurred())
			var claims map[string]any
			Expect(json.Unmarshal(payload, &claims)).To(Succeed())
			Expect(claims).To(HaveKeyWithValue("email", "a@x.com"))
			Expect(claims).To(HaveKey("exp"))

			resp, err = env.call(http.MethodGet, "/api/users/me", nil, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.body).To(HaveKeyWithValue("isVerified", true))
			Expect(resp.body).To(HaveKeyWithValue("firstName", "A"))
		})

		It("rejects a second verification of the same account", func() {
			Expect(register("twice@x.com", "secret1", "T", "W").status).To(Equal(http.StatusCreated))
			verifyPath := awaitLink("twice@x.com", auth.SubjectVerification)

			resp, err := env.call(http.MethodGet, verifyPath, nil, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.status).To(Equal(http.StatusOK))

			resp, err = env.call(http.MethodGet, verifyPath, nil, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorMessages()).To(ConsistOf("Email already verified"))
		})

		It("rejects duplicate registration regardless of case", func() {
			resp := register("A@X.COM", "secret1", "A", "B")
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorMessages()).To(ConsistOf("Email already in use"))
		})

		It("answers unknown email and wrong password identically", func() {
			wrong := login("a@x.com", "not-the-password")
			unknown := login("nobody@x.com", "secret1")

			Expect(wrong.status).To(Equal(http.StatusBadRequest))
			Expect(unknown.status).To(Equal(wrong.status))
			Expect(unknown.errorMessages()).To(Equal(wrong.errorMessages()))
		})
	})

	Describe("password reset", func() {
		It("resets an unverified account and verifies it on the way", func() {
			Expect(register("reset@x.com", "secret1", "R", "S").status).To(Equal(http.StatusCreated))

			resp, err := env.call(http.MethodPost, "/api/auth/reset", map[string]string{"email": "reset@x.com"}, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.status).To(Equal(http.StatusOK))

			resetPath := awaitLink("reset@x.com", auth.SubjectResetRequest)
			Expect(resetPath).To(HavePrefix("/api/auth/reset/"))

			newPassword := map[string]string{"password": "brandnew1", "confirmPassword": "brandnew1"}
			resp, err = env.call(http.MethodPost, resetPath, newPassword, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.body).To(HaveKeyWithValue("message", "Password changed successfully"))

			Eventually(func() bool {
				_, ok := env.outbox.latest("reset@x.com", auth.SubjectResetComplete)
				return ok
			}, 5*time.Second, 20*time.Millisecond).Should(BeTrue())

			resp = login("reset@x.com", "secret1")
			Expect(resp.status).To(Equal(http.StatusBadRequest))

			resp = login("reset@x.com", "brandnew1")
			Expect(resp.status).To(Equal(http.StatusOK))
			token, _ := resp.body["token"].(string)

			resp, err = env.call(http.MethodGet, "/api/users/me", nil, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.body).To(HaveKeyWithValue("isVerified", true))

			By("refusing to reuse the reset token")
			resp, err = env.call(http.MethodPost, resetPath, newPassword, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorMessages()).To(ConsistOf("Invalid token"))
		})

		It("reports unknown emails", func() {
			resp, err := env.call(http.MethodPost, "/api/auth/reset", map[string]string{"email": "ghost@x.com"}, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorMessages()).To(ConsistOf("Email not found"))
		})
	})

	Describe("authorization gate", func() {
		It("rejects profile access without a session", func() {
			resp, err := env.call(http.MethodGet, "/api/users/me", nil, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.status).To(Equal(http.StatusUnauthorized))
			Expect(resp.errorMessages()).To(ConsistOf("Not authorized"))
		})

		It("only lets an account edit itself", func() {
			resp := login("a@x.com", "secret1")
			token, _ := resp.body["token"].(string)
			identity, err := env.sessions.Verify(token)
			Expect(err).NotTo(HaveOccurred())

			resp, err = env.call(http.MethodPut, "/api/users/"+identity.ID, map[string]string{"lastName": "Byron"}, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.body).To(HaveKeyWithValue("lastName", "Byron"))

			other := login("reset@x.com", "brandnew1")
			otherToken, _ := other.body["token"].(string)
			resp, err = env.call(http.MethodPut, "/api/users/"+identity.ID, map[string]string{"lastName": "Nope"}, otherToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.status).To(Equal(http.StatusUnauthorized))
		})
	})
})
