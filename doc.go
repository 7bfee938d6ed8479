// Package oauth provides a delegated OAuth 2.1 authorization server with
// an identity bridge. A client completes authorization by presenting a
// verified upstream identity token; the server mints its own RS256-signed
// access tokens, rotates refresh tokens, and retains the upstream token so
// that an authenticated caller holding the bridge scope can later exchange
// its access token for the original identity token.
//
// The package is a thin HTTP adapter over the server package, which holds
// the engine logic. Typical wiring:
//
//	store := memory.New()
//	defer store.Stop()
//
//	signer, _ := jwt.NewSigner(key, issuer)
//	verifier, _ := oidc.New(ctx, oidc.Config{Issuer: upstream, JWKSURL: jwks})
//
//	srv, _ := server.New(verifier, signer, store, store, store,
//		&server.Config{Issuer: issuer}, logger)
//
//	handler := oauth.NewHandler(srv, logger)
//	mux := http.NewServeMux()
//	handler.RegisterRoutes(mux)
package oauth
