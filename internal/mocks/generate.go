// Package mocks contiene mocks gomock (go.uber.org/mock) de las interfaces
// de frontera. Regenerar con:
//
//	go generate ./internal/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=oauth_client_mock.go github.com/dropDatabas3/beout-auth/internal/oauth Client
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=id_token_verifier_mock.go github.com/dropDatabas3/beout-auth/internal/verifier IDTokenVerifier
