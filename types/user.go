package types

// User is an already authenticated identity. Ids are unique (the e-mail claim for OIDC, the subject for JWTs),
// the nick is used for display only.
type User struct {
	Id   string `json:"id"`
	Nick string `json:"nick"`
}
