package notifx

import "fmt"

// OTPEmailSubject is the subject line for password-reset codes.
const OTPEmailSubject = "Password Reset OTP"

// BuildOTPMessage renders the body of a password-reset email.
func BuildOTPMessage(code string) string {
	return fmt.Sprintf("Your OTP for password reset is: %s\n\nThis OTP is valid for 10 minutes.", code)
}
