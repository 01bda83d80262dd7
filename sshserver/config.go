package sshserver

// Config defines SSH console settings.
type Config struct {
	Addr        string
	HostKeyPath string
	Prompt      string
	Theme       string
	Users       []User
}

// User is an account allowed to open the SSH console. PasswordHash is a
// bcrypt hash; LoginPubKeys are authorized_keys lines.
type User struct {
	Username     string   `mapstructure:"username" yaml:"username"`
	PasswordHash string   `mapstructure:"password_hash" yaml:"password_hash"`
	LoginPubKeys []string `mapstructure:"login_pubkeys" yaml:"login_pubkeys"`
}
