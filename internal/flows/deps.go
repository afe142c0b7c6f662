package flows

// Deps groups flow dependency sets. The root engine builds this once and
// delegates each operation to the matching flow.
type Deps struct {
	Login          LoginDeps
	SecondFactor   SecondFactorDeps
	Passkey        PasskeyDeps
	BackupCodes    BackupCodeDeps
	TwoFactor      TwoFactorDeps
	Session        SessionDeps
	Emergency      EmergencyDeps
	PasswordChange PasswordChangeDeps
}
