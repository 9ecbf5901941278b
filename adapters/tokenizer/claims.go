package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AuthClaims are the claims of a wallet-signed authorization token. The
// subject is the signing wallet and the audience is the purpose.
type AuthClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce"`
}
