package ai

import "fmt"

const classificationPrompt = `You are a tax document classifier for a CPA firm. Analyze the following document text and classify it into the appropriate category and subcategory.

Available categories and subcategories:
- income: W-2, 1099-INT, 1099-DIV, 1099-B, 1099-MISC, 1099-NEC, 1099-R, K-1, SSA-1099
- deductions: 1098, 1098-T, 1098-E, Medical receipts, Charitable donations, Property tax
- expenses: Business receipts, Home office, Vehicle logs, Travel expenses, Equipment
- banking: Bank statement, Investment statement, Brokerage statement
- property: Property tax bill, Purchase documents, Sale documents, Closing statement
- identity: Drivers license, Prior year return, Social security card
- other: Miscellaneous, Unclassified

For each document, provide:
1. The category (one of the main categories above)
2. The subcategory (one of the subcategories for that category)
3. Confidence score (0-100)
4. Tax year if identifiable
5. Key extracted fields relevant to tax preparation
6. A brief summary of the document

Respond ONLY with valid JSON in this exact format:
{
  "category": "string",
  "subcategory": "string",
  "confidence": number,
  "taxYear": number or null,
  "extractedFields": [
    {"fieldName": "string", "value": "string", "confidence": number}
  ],
  "summary": "string"
}

Document text to classify:
`

func extractionPrompt(formType, text string) string {
	return fmt.Sprintf(`You are a tax document data extractor. Extract all relevant fields from this %s form.

For %s, extract fields like:
%s

Return the extracted data as a JSON object with field names as keys and values as strings.
Include a "confidence" field (0-100) indicating overall extraction confidence.

Document text:
%s

Respond ONLY with valid JSON.`, formType, formType, formFieldsHint(formType), text)
}

func formFieldsHint(formType string) string {
	hints := map[string]string{
		"W-2": `
      - Employer name and address (Box a-c)
      - Employee name, SSN, address (Box d-f)
      - Wages, tips, other compensation (Box 1)
      - Federal income tax withheld (Box 2)
      - Social security wages and tax (Box 3-4)
      - Medicare wages and tax (Box 5-6)
      - State wages and tax (Box 15-17)`,
		"1099-INT": `
      - Payer name and TIN
      - Recipient name, TIN, address
      - Interest income (Box 1)
      - Early withdrawal penalty (Box 2)
      - Interest on U.S. Savings Bonds (Box 3)
      - Federal income tax withheld (Box 4)`,
		"1099-DIV": `
      - Payer name and TIN
      - Recipient name, TIN, address
      - Total ordinary dividends (Box 1a)
      - Qualified dividends (Box 1b)
      - Total capital gain distributions (Box 2a)
      - Federal income tax withheld (Box 4)`,
		"1098": `
      - Lender name and address
      - Borrower name and SSN
      - Mortgage interest received (Box 1)
      - Points paid on purchase (Box 2)
      - Mortgage origination date (Box 3)
      - Property address`,
	}

	if hint, ok := hints[formType]; ok {
		return hint
	}
	return `- All relevant tax-related fields
    - Names, addresses, and identification numbers
    - Dollar amounts and dates
    - Any box numbers and their values`
}
