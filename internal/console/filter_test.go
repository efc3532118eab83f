package console

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterInquiries(testingT *testing.T) {
	inquiries := []Inquiry{
		{ID: 4, Kind: "contact", Name: "Asha Devi", PhoneNumber: "9876543210"},
		{ID: 3, Kind: "serviceRequest", Name: "Ravi", PhoneNumber: "9123456789", ServiceCategory: "PAN", Read: true},
		{ID: 2, Kind: "serviceRequest", Name: "Meena", PhoneNumber: "7012345678", ServiceCategory: "Utility"},
		{ID: 1, Kind: "contact", Name: "asha kumari", PhoneNumber: "6000000001", Read: true},
	}

	testCases := []struct {
		name        string
		criteria    Criteria
		expectedIDs []uint64
	}{
		{name: "no criteria", criteria: Criteria{}, expectedIDs: []uint64{4, 3, 2, 1}},
		{name: "unread", criteria: Criteria{Read: ReadFilterUnread}, expectedIDs: []uint64{4, 2}},
		{name: "read", criteria: Criteria{Read: ReadFilterRead}, expectedIDs: []uint64{3, 1}},
		{name: "name search ignores case", criteria: Criteria{Search: "ASHA"}, expectedIDs: []uint64{4, 1}},
		{name: "phone search ignores separators", criteria: Criteria{Search: "98765-43"}, expectedIDs: []uint64{4}},
		{name: "kind", criteria: Criteria{Kind: "serviceRequest"}, expectedIDs: []uint64{3, 2}},
		{name: "category", criteria: Criteria{ServiceCategory: "pan"}, expectedIDs: []uint64{3}},
		{name: "combined", criteria: Criteria{Read: ReadFilterUnread, Kind: "contact", Search: "asha"}, expectedIDs: []uint64{4}},
		{name: "no match", criteria: Criteria{Search: "zzz"}, expectedIDs: []uint64{}},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(testingT *testing.T) {
			matches := FilterInquiries(inquiries, testCase.criteria)
			identifiers := make([]uint64, 0, len(matches))
			for _, match := range matches {
				identifiers = append(identifiers, match.ID)
			}
			require.Equal(testingT, testCase.expectedIDs, identifiers)
		})
	}
}

func TestParseReadFilter(testingT *testing.T) {
	filter, parseErr := ParseReadFilter(" Unread ")
	require.NoError(testingT, parseErr)
	require.Equal(testingT, ReadFilterUnread, filter)

	filter, parseErr = ParseReadFilter("all")
	require.NoError(testingT, parseErr)
	require.Equal(testingT, ReadFilterAll, filter)

	_, parseErr = ParseReadFilter("archived")
	require.Error(testingT, parseErr)
}

func TestServiceCategoriesKeepsFirstSeenOrder(testingT *testing.T) {
	categories := ServiceCategories([]Inquiry{
		{ServiceCategory: "PAN"},
		{ServiceCategory: ""},
		{ServiceCategory: "Aadhaar"},
		{ServiceCategory: " PAN "},
	})
	require.Equal(testingT, []string{"PAN", "Aadhaar"}, categories)
}
