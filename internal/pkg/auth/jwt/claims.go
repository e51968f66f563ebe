package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the structure of the JSON Web Token (JWT) claims for CrewChat.
// The realtime core only needs the subject user id; everything else about the
// user is resolved through the identity-lookup collaborator after the token
// has been verified.
type Payload struct {
	// StandardClaims embeds the necessary JWT standard fields such as Exp (Expiration),
	// Iat (Issued At), and Iss (Issuer). These are crucial for token validity checks.
	jwt.StandardClaims

	// UserID is the unique identifier of the authenticated user.
	UserID string `json:"uid"`
}
