package handler

import (
	"io"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

const maxBodyBytes = 1 << 20

// readBody reads a bounded JSON request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest("request body too large or unreadable")
	}
	if len(data) == 0 {
		return nil, badRequest("request body required")
	}
	return data, nil
}

func malformed(err error) error {
	return badRequest("malformed JSON: " + err.Error())
}

func decodeOptionalStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	out := []string{}
	if d.Next() == jx.Null {
		return out, d.Null()
	}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		out = append(out, s)
		return err
	})
	return out, err
}

func decodeLines(d *jx.Decoder) ([]checkout.Line, error) {
	var lines []checkout.Line
	err := d.Arr(func(d *jx.Decoder) error {
		var l checkout.Line
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "product", "productId":
				l.ProductID, err = d.Str()
			case "quantity":
				l.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		lines = append(lines, l)
		return nil
	})
	return lines, err
}

func validateLines(lines []checkout.Line) error {
	if len(lines) == 0 {
		return badRequest("items must not be empty")
	}
	for i, l := range lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return badRequest("items[" + strconv.Itoa(i) + "].product is required")
		}
		if l.Quantity < 1 {
			return badRequest("items[" + strconv.Itoa(i) + "].quantity must be at least 1")
		}
	}
	return nil
}

// addressBody is the shipping address as submitted at checkout.
type addressBody struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   string
	City      string
	ZipCode   string
}

func (a addressBody) validate() error {
	switch {
	case strings.TrimSpace(a.FirstName) == "":
		return badRequest("shippingAddress.firstName is required")
	case strings.TrimSpace(a.LastName) == "":
		return badRequest("shippingAddress.lastName is required")
	case utf8.RuneCountInString(strings.TrimSpace(a.Phone)) < 9:
		return badRequest("shippingAddress.phone must be at least 9 characters")
	case utf8.RuneCountInString(strings.TrimSpace(a.Address)) < 5:
		return badRequest("shippingAddress.address must be at least 5 characters")
	case utf8.RuneCountInString(strings.TrimSpace(a.City)) < 2:
		return badRequest("shippingAddress.city must be at least 2 characters")
	case utf8.RuneCountInString(strings.TrimSpace(a.ZipCode)) < 2:
		return badRequest("shippingAddress.zipCode must be at least 2 characters")
	}
	if _, err := mail.ParseAddress(a.Email); err != nil {
		return badRequest("shippingAddress.email is invalid")
	}
	return nil
}

// shipping converts the submitted address to its persisted form: address
// becomes street and the email moves to the order's contact email.
func (a addressBody) shipping() order.ShippingAddress {
	return order.ShippingAddress{
		FirstName: strings.TrimSpace(a.FirstName),
		LastName:  strings.TrimSpace(a.LastName),
		Street:    strings.TrimSpace(a.Address),
		City:      strings.TrimSpace(a.City),
		ZipCode:   strings.TrimSpace(a.ZipCode),
		Phone:     strings.TrimSpace(a.Phone),
	}
}

func decodeAddress(d *jx.Decoder) (addressBody, error) {
	var a addressBody
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "firstName":
			a.FirstName, err = d.Str()
		case "lastName":
			a.LastName, err = d.Str()
		case "email":
			a.Email, err = d.Str()
		case "phone":
			a.Phone, err = d.Str()
		case "address", "street":
			a.Address, err = d.Str()
		case "city":
			a.City, err = d.Str()
		case "zipCode":
			a.ZipCode, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}

type checkoutBody struct {
	Lines      []checkout.Line
	Address    addressBody
	CouponCode string
	hasAddress bool
}

func decodeCheckout(data []byte) (checkoutBody, error) {
	var b checkoutBody
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "items":
			b.Lines, err = decodeLines(d)
		case "shippingAddress":
			b.hasAddress = true
			b.Address, err = decodeAddress(d)
		case "couponCode":
			b.CouponCode, err = decodeOptionalStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return b, malformed(err)
	}

	if err := validateLines(b.Lines); err != nil {
		return b, err
	}
	if !b.hasAddress {
		return b, badRequest("shippingAddress is required")
	}
	if err := b.Address.validate(); err != nil {
		return b, err
	}
	return b, nil
}

type previewBody struct {
	CouponCode string
	Lines      []checkout.Line
}

func decodePreview(data []byte) (previewBody, error) {
	var b previewBody
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "items":
			b.Lines, err = decodeLines(d)
		case "couponCode":
			b.CouponCode, err = decodeOptionalStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return b, malformed(err)
	}
	if err := validateLines(b.Lines); err != nil {
		return b, err
	}
	return b, nil
}

func decodeStatus(data []byte) (order.Status, error) {
	var raw string
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "status" {
			return d.Skip()
		}
		var err error
		raw, err = d.Str()
		return err
	})
	if err != nil {
		return "", malformed(err)
	}
	st, err := order.ParseStatus(raw)
	if err != nil {
		return "", badRequest(err.Error())
	}
	return st, nil
}

type webhookBody struct {
	OrderID       string
	PaymentStatus order.PaymentStatus
}

func decodeWebhook(data []byte) (webhookBody, error) {
	var (
		b   webhookBody
		raw string
	)
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "orderId":
			b.OrderID, err = d.Str()
		case "paymentStatus":
			raw, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return b, malformed(err)
	}
	if b.OrderID == "" {
		return b, badRequest("orderId is required")
	}
	ps, err := order.ParsePaymentStatus(raw)
	if err != nil {
		return b, badRequest(err.Error())
	}
	b.PaymentStatus = ps
	return b, nil
}

// decodeCouponDraft reads a coupon write. isActive defaults to true and
// applicableType to "all" when omitted.
func decodeCouponDraft(data []byte) (coupon.Draft, error) {
	draft := coupon.Draft{IsActive: true, ApplicableType: coupon.ApplicableAll}
	var (
		discountType   string
		applicableType string
		expires        string
		hasValue       bool
	)
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			draft.Code, err = d.Str()
		case "discountType":
			discountType, err = d.Str()
		case "discountValue":
			hasValue = true
			draft.DiscountValue, err = decodeMoney(d)
		case "expirationDate":
			expires, err = d.Str()
		case "isActive":
			draft.IsActive, err = d.Bool()
		case "usageLimit":
			if d.Next() == jx.Null {
				draft.UsageLimit = nil
				return d.Null()
			}
			var n int
			n, err = d.Int()
			draft.UsageLimit = &n
		case "applicableType":
			applicableType, err = d.Str()
		case "applicableIds":
			draft.ApplicableIDs, err = decodeStrings(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return draft, malformed(err)
	}

	if draft.DiscountType, err = coupon.ParseDiscountType(discountType); err != nil {
		return draft, badRequest(err.Error())
	}
	if applicableType != "" {
		if draft.ApplicableType, err = coupon.ParseApplicableType(applicableType); err != nil {
			return draft, badRequest(err.Error())
		}
	}
	if !hasValue {
		return draft, badRequest("discountValue is required")
	}
	if expires == "" {
		return draft, badRequest("expirationDate is required")
	}
	if draft.ExpirationDate, err = time.Parse(time.RFC3339, expires); err != nil {
		return draft, badRequest("expirationDate must be RFC 3339")
	}
	return draft, nil
}

// decodeMoney accepts a JSON number or a decimal string.
func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, errors.Wrap(err, "parse amount")
		}
		return v, nil
	}
	f, err := d.Float64()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(f).Round(2), nil
}
