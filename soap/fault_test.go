package soap

import (
	"errors"
	"testing"
	"time"
)

const serverBusyFault = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <s:Fault>
      <faultcode xmlns:a="http://schemas.microsoft.com/exchange/services/2006/types">a:ErrorServerBusy</faultcode>
      <faultstring xml:lang="en-US">The server cannot service this request right now. Try again later.</faultstring>
      <detail>
        <e:ResponseCode xmlns:e="http://schemas.microsoft.com/exchange/services/2006/errors">ErrorServerBusy</e:ResponseCode>
        <e:Message xmlns:e="http://schemas.microsoft.com/exchange/services/2006/errors">The server cannot service this request right now. Try again later.</e:Message>
        <t:MessageXml xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types">
          <t:Value Name="BackOffMilliseconds">1500</t:Value>
        </t:MessageXml>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`

func TestFault_BackOff(t *testing.T) {
	_, err := ParseResponse([]byte(serverBusyFault))
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("ParseResponse() error = %v, want *Fault", err)
	}
	if !f.IsThrottled() {
		t.Error("IsThrottled() = false, want true")
	}
	if got := f.BackOff(); got != 1500*time.Millisecond {
		t.Errorf("BackOff() = %v, want 1.5s", got)
	}
}

func TestFault_BackOffAbsent(t *testing.T) {
	tests := []struct {
		name  string
		fault *Fault
	}{
		{"no detail", &Fault{}},
		{"no message xml", &Fault{Detail: Tree{"ResponseCode": "ErrorServerBusy"}}},
		{"other values", &Fault{Detail: Tree{"MessageXml": Tree{"Value": []any{
			Tree{AttributesKey: map[string]any{"Name": "Policy"}, ValueKey: "x"},
			Tree{AttributesKey: map[string]any{"Name": "BackOffMilliseconds"}, ValueKey: "soon"},
		}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fault.BackOff(); got != 0 {
				t.Errorf("BackOff() = %v, want 0", got)
			}
		})
	}
}

func TestFault_Error(t *testing.T) {
	f := &Fault{Code: "soap:Client", ResponseCode: "ErrorInvalidRequest", String: "bad"}
	if got, want := f.Error(), "soap fault: soap:Client: ErrorInvalidRequest: bad"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
