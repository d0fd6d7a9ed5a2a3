package notify

import (
	"fmt"
	"html/template"
	"strings"
)

var emailTmpl = template.Must(template.New("license").Parse(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #4CAF50;">Payment Confirmation</h2>
  <p>Thank you for your payment!</p>
  <div style="background: #f5f5f5; padding: 20px; border-radius: 8px; margin: 20px 0;">
    <h3 style="margin-top: 0;">Your License Key:</h3>
    <p style="font-size: 18px; font-weight: bold; font-family: monospace;">{{.LicenseKey}}</p>
    <p style="font-size: 12px; color: #666;">Please save this license key. You'll need it to activate your product.</p>
  </div>
  <h3>Payment Details:</h3>
  <table style="width: 100%; border-collapse: collapse;">
    <tr><td style="padding: 8px;"><strong>Payment ID:</strong></td><td style="padding: 8px;">{{.PaymentID}}</td></tr>
    <tr><td style="padding: 8px;"><strong>Order ID:</strong></td><td style="padding: 8px;">{{.OrderID}}</td></tr>
    <tr><td style="padding: 8px;"><strong>Amount:</strong></td><td style="padding: 8px;">{{.Amount}}</td></tr>
    <tr><td style="padding: 8px;"><strong>Expires:</strong></td><td style="padding: 8px;">{{.Expires}}</td></tr>
    <tr><td style="padding: 8px;"><strong>Max Activations:</strong></td><td style="padding: 8px;">1 device</td></tr>
  </table>
  <p style="margin-top: 30px; font-size: 12px; color: #666;">
    If you have any questions or need assistance, please contact our support team.
  </p>
</div>`))

func renderLicenseEmail(msg LicenseEmail) string {
	amount := fmt.Sprintf("%s %.2f", msg.Currency, float64(msg.AmountMinor)/100)
	expires := "Never (lifetime license)"
	if msg.ExpiresAt != nil {
		expires = msg.ExpiresAt.Format("2 Jan 2006")
	}

	var b strings.Builder
	// The template is static and the data is plain strings; render cannot fail.
	_ = emailTmpl.Execute(&b, map[string]string{
		"LicenseKey": msg.LicenseKey,
		"PaymentID":  msg.PaymentID,
		"OrderID":    msg.OrderID,
		"Amount":     amount,
		"Expires":    expires,
	})
	return b.String()
}
