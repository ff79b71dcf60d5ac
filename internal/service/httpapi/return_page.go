package httpapi

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payment/paypal"
)

const returnTemplateName = "paypal_return"

// Страница popup'а: отправляет результат opener'у только на origin магазина и закрывается.
// Без opener'а (popup заблокирован) сама переходит на подтверждение или назад к оплате.
const returnPageHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<p>{{.Text}}</p>
{{if .Link}}<p><a href="{{.Link}}">Return to the shop</a></p>{{end}}
{{if .Message}}<script>
(function () {
  var msg = {{.Message}};
  var target = {{.Origin}};
  if (window.opener && !window.opener.closed) {
    window.opener.postMessage(msg, target);
    window.close();
    return;
  }
  window.location.replace({{.Fallback}});
})();
</script>{{end}}
</body>
</html>
`

type returnPage struct {
	Title    string
	Text     string
	Message  *paypal.Message
	Origin   string
	Fallback string
	Link     string
}

func (h *Handler) renderReturn(c *gin.Context, status int, msg *paypal.Message) {
	page := returnPage{
		Title:    "Payment could not be verified",
		Text:     "We could not verify this payment link. Please return to the shop and try again.",
		Fallback: "/checkout",
	}
	if hub := h.payments.Hub(); hub != nil {
		page.Origin = hub.Policy().Origin()
	}
	if msg != nil {
		page.Message = msg
		switch msg.Type {
		case paypal.MessageSuccess:
			page.Title = "Payment complete"
			page.Text = "Thank you. Your payment has been received, you can close this window."
			page.Fallback = "/confirmation?orderId=" + url.QueryEscape(msg.OrderID)
		case paypal.MessageCancelled:
			page.Title = "Payment cancelled"
			page.Text = "Your PayPal payment was cancelled."
		default:
			page.Title = "Payment problem"
			page.Text = "There was a problem with your PayPal payment."
		}
	}
	c.HTML(status, returnTemplateName, page)
}

// renderPending — PayPal ещё не подтвердил платёж. Opener'у ничего не отправляется:
// его long-poll дождётся IPN.
func (h *Handler) renderPending(c *gin.Context) {
	c.HTML(http.StatusAccepted, returnTemplateName, returnPage{
		Title: "Waiting for PayPal",
		Text:  "We are waiting for PayPal to confirm your payment. Your order will update as soon as it does.",
		Link:  "/checkout",
	})
}
