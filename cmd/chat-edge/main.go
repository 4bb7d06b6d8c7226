// chat-edge sits between browsers and the chat backend. It verifies or
// downgrades caller identity, mints short-lived internal credentials, and
// streams chat responses back without buffering.
//
// Environment Variables:
//   - CHAT_EDGE_MANIFEST: path to the TOML manifest (default "relay.toml")
//   - DOWNSTREAM_BASE_URL: chat backend base URL (overrides manifest)
//   - GENAI_BASE_URL: generative upstream base URL (overrides manifest)
//   - SERVER_LISTEN_ADDRESS: listen address (overrides manifest)
//   - INTERNAL_TOKEN_SECRET: HS256 secret for internal credentials
//   - IDENTITY_KEY_URL / IDENTITY_KEY_KID: external verification key source
//   - IDENTITY_ISSUER / IDENTITY_AUDIENCE: expected external claim values
package main

import (
	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/sydworks/chat-edge/pkg/serverfx"
)

func main() {
	// Missing .env is fine; real deployments use the environment directly.
	_ = godotenv.Load()

	fx.New(serverfx.Module()).Run()
}
