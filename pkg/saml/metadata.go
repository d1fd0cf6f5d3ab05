package saml

import (
	"encoding/base64"

	"github.com/beevik/etree"
)

// BuildSPMetadata renders the SP EntityDescriptor for a resolved
// registration. The signing certificate is published for both signing and
// encryption use when request signing is enabled.
func BuildSPMetadata(reg *Registration) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	entity := doc.CreateElement("md:EntityDescriptor")
	entity.CreateAttr("xmlns:md", "urn:oasis:names:tc:SAML:2.0:metadata")
	entity.CreateAttr("entityID", reg.SPEntityID)

	sp := entity.CreateElement("md:SPSSODescriptor")
	sp.CreateAttr("protocolSupportEnumeration", "urn:oasis:names:tc:SAML:2.0:protocol")
	sp.CreateAttr("AuthnRequestsSigned", boolAttr(reg.SignRequests))
	sp.CreateAttr("WantAssertionsSigned", "true")

	if reg.SigningCert != nil {
		cert := base64.StdEncoding.EncodeToString(reg.SigningCert.Raw)
		for _, use := range []string{"signing", "encryption"} {
			kd := sp.CreateElement("md:KeyDescriptor")
			kd.CreateAttr("use", use)
			ki := kd.CreateElement("ds:KeyInfo")
			ki.CreateAttr("xmlns:ds", "http://www.w3.org/2000/09/xmldsig#")
			ki.CreateElement("ds:X509Data").
				CreateElement("ds:X509Certificate").
				SetText(cert)
		}
	}

	nameID := sp.CreateElement("md:NameIDFormat")
	nameID.SetText("urn:oasis:names:tc:SAML:2.0:nameid-format:unspecified")

	acs := sp.CreateElement("md:AssertionConsumerService")
	acs.CreateAttr("Binding", BindingHTTPPost)
	acs.CreateAttr("Location", reg.ACSLocation)
	acs.CreateAttr("index", "0")
	acs.CreateAttr("isDefault", "true")

	doc.Indent(2)
	return doc.WriteToBytes()
}

func boolAttr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
