package vessel

import "fmt"

// MMSIClass is the kind of station implied by an MMSI's leading digits.
type MMSIClass int

const (
	ClassShip MMSIClass = iota
	ClassBaseStation
	ClassAtoN
	ClassSARAircraft
	ClassAuxiliary
	ClassSART
)

// ClassifyMMSI applies the ITU-R M.585 prefixes: 00 base station,
// 99 aid to navigation, 111 SAR aircraft, 98 craft associated with a parent
// ship, 970 SART.
func ClassifyMMSI(mmsi uint32) MMSIClass {
	s := fmt.Sprintf("%09d", mmsi)
	switch {
	case s[:2] == "00":
		return ClassBaseStation
	case s[:2] == "99":
		return ClassAtoN
	case s[:3] == "111":
		return ClassSARAircraft
	case s[:2] == "98":
		return ClassAuxiliary
	case s[:3] == "970":
		return ClassSART
	}
	return ClassShip
}

// MID extracts the three digit Maritime Identification Digits, or 0.
func MID(mmsi uint32) int {
	s := fmt.Sprintf("%09d", mmsi)
	var digits string
	switch ClassifyMMSI(mmsi) {
	case ClassBaseStation, ClassAtoN, ClassAuxiliary:
		digits = s[2:5]
	case ClassSARAircraft:
		digits = s[3:6]
	case ClassSART:
		return 0
	default:
		digits = s[:3]
	}
	mid := 0
	for _, c := range digits {
		mid = mid*10 + int(c-'0')
	}
	return mid
}

// Country returns the flag state for the MMSI's MID, or "Unknown".
func Country(mmsi uint32) string {
	if c, ok := midCountries[MID(mmsi)]; ok {
		return c
	}
	return "Unknown"
}

// ShipTypeText renders an AIS ship-and-cargo type code.
func ShipTypeText(shipType int) string {
	if t, ok := shipTypes[shipType]; ok {
		return t
	}
	return fmt.Sprintf("Unknown (%d)", shipType)
}

var midCountries = map[int]string{
	201: "Albania", 202: "Andorra", 203: "Austria", 204: "Portugal", 205: "Belgium",
	206: "Belarus", 207: "Bulgaria", 208: "Vatican", 209: "Cyprus", 210: "Cyprus",
	211: "Germany", 212: "Cyprus", 213: "Georgia", 214: "Moldova", 215: "Malta",
	216: "Armenia", 218: "Germany", 219: "Denmark", 220: "Denmark", 224: "Spain",
	225: "Spain", 226: "France", 227: "France", 228: "France", 229: "Malta",
	230: "Finland", 231: "Faroe Islands", 232: "United Kingdom", 233: "United Kingdom",
	234: "United Kingdom", 235: "United Kingdom", 236: "Gibraltar", 237: "Greece",
	238: "Croatia", 239: "Greece", 240: "Greece", 241: "Greece", 242: "Morocco",
	243: "Hungary", 244: "Netherlands", 245: "Netherlands", 246: "Netherlands",
	247: "Italy", 248: "Malta", 249: "Malta", 250: "Ireland", 251: "Iceland",
	252: "Liechtenstein", 253: "Luxembourg", 254: "Monaco", 255: "Madeira",
	256: "Malta", 257: "Norway", 258: "Norway", 259: "Norway", 261: "Poland",
	262: "Montenegro", 263: "Portugal", 264: "Romania", 265: "Sweden", 266: "Sweden",
	267: "Slovakia", 268: "San Marino", 269: "Switzerland", 270: "Czech Republic",
	271: "Turkey", 272: "Ukraine", 273: "Russian Federation", 274: "North Macedonia",
	275: "Latvia", 276: "Estonia", 277: "Lithuania", 278: "Slovenia", 279: "Serbia",
	301: "Anguilla", 303: "Alaska", 304: "Antigua and Barbuda", 305: "Antigua and Barbuda",
	306: "Netherlands Antilles", 307: "Aruba", 308: "Bahamas", 309: "Bahamas",
	310: "Bermuda", 311: "Bahamas", 312: "Belize", 314: "Barbados", 316: "Canada",
	319: "Cayman Islands", 321: "Costa Rica", 323: "Cuba", 325: "Dominica",
	327: "Dominican Republic", 329: "Guadeloupe", 330: "Grenada", 331: "Greenland",
	332: "Guatemala", 334: "Honduras", 336: "Haiti", 338: "United States", 339: "Jamaica",
	341: "Saint Kitts and Nevis", 343: "Saint Lucia", 345: "Mexico", 347: "Martinique",
	348: "Montserrat", 350: "Nicaragua", 351: "Panama", 352: "Panama", 353: "Panama",
	354: "Panama", 355: "Panama", 356: "Panama", 357: "Panama", 358: "Puerto Rico",
	359: "El Salvador", 361: "Saint Pierre and Miquelon", 362: "Trinidad and Tobago",
	364: "Turks and Caicos Islands", 366: "United States", 367: "United States",
	368: "United States", 369: "United States", 370: "Panama", 371: "Panama",
	372: "Panama", 373: "Panama", 374: "Panama", 375: "Saint Vincent and the Grenadines",
	376: "Saint Vincent and the Grenadines", 377: "Saint Vincent and the Grenadines",
	378: "British Virgin Islands", 379: "United States Virgin Islands", 401: "Afghanistan",
	403: "Saudi Arabia", 405: "Bangladesh", 408: "Bahrain", 410: "Bhutan", 412: "China",
	413: "China", 414: "China", 416: "Taiwan", 417: "Sri Lanka", 419: "India",
	422: "Iran", 423: "Azerbaijan", 425: "Iraq", 428: "Israel", 431: "Japan",
	432: "Japan", 434: "Turkmenistan", 436: "Kazakhstan", 437: "Uzbekistan",
	438: "Jordan", 440: "South Korea", 441: "South Korea", 443: "Palestine",
	445: "North Korea", 447: "Kuwait", 450: "Lebanon", 451: "Kyrgyzstan", 453: "Macao",
	455: "Maldives", 457: "Mongolia", 459: "Nepal", 461: "Oman", 463: "Pakistan",
	466: "Qatar", 468: "Syria", 470: "United Arab Emirates", 472: "Tajikistan",
	473: "Yemen", 475: "Yemen", 477: "Hong Kong", 478: "Bosnia and Herzegovina",
	501: "Antarctica", 503: "Australia", 506: "Myanmar", 508: "Brunei", 510: "Micronesia",
	511: "Palau", 512: "New Zealand", 514: "Cambodia", 515: "Cambodia", 516: "Christmas Island",
	518: "Cook Islands", 520: "Fiji", 523: "Cocos Islands", 525: "Indonesia",
	529: "Kiribati", 531: "Laos", 533: "Malaysia", 536: "Northern Mariana Islands",
	538: "Marshall Islands", 540: "New Caledonia", 542: "Niue", 544: "Nauru",
	546: "French Polynesia", 548: "Philippines", 553: "Papua New Guinea", 555: "Pitcairn Island",
	557: "Solomon Islands", 559: "American Samoa", 561: "Samoa", 563: "Singapore",
	564: "Singapore", 565: "Singapore", 566: "Singapore", 567: "Thailand", 570: "Tonga",
	572: "Tuvalu", 574: "Vietnam", 576: "Vanuatu", 577: "Vanuatu", 578: "Wallis and Futuna",
	601: "South Africa", 603: "Angola", 605: "Algeria", 607: "Saint Paul and Amsterdam Islands",
	608: "Ascension Island", 609: "Burundi", 610: "Benin", 611: "Botswana",
	612: "Central African Republic", 613: "Cameroon", 615: "Congo", 616: "Comoros",
	617: "Cape Verde", 618: "Crozet Archipelago", 619: "Ivory Coast", 620: "Comoros",
	621: "Djibouti", 622: "Egypt", 624: "Ethiopia", 625: "Eritrea", 626: "Gabonese Republic",
	627: "Ghana", 629: "Gambia", 630: "Guinea-Bissau", 631: "Equatorial Guinea",
	632: "Guinea", 633: "Burkina Faso", 634: "Kenya", 635: "Kerguelen Islands",
	636: "Liberia", 637: "Liberia", 638: "South Sudan", 642: "Libya", 644: "Lesotho",
	645: "Mauritius", 647: "Madagascar", 649: "Mali", 650: "Mozambique", 654: "Mauritania",
	655: "Malawi", 656: "Niger", 657: "Nigeria", 659: "Namibia", 660: "Reunion",
	661: "Rwanda", 662: "Sudan", 663: "Senegal", 664: "Seychelles", 665: "Saint Helena",
	666: "Somalia", 667: "Sierra Leone", 668: "Sao Tome and Principe", 669: "Swaziland",
	670: "Chad", 671: "Togolese Republic", 672: "Tunisia", 674: "Tanzania",
	675: "Uganda", 676: "Democratic Republic of the Congo", 677: "Tanzania",
	678: "Zambia", 679: "Zimbabwe",
}

var shipTypes = map[int]string{
	0:  "Not available",
	20: "Wing in ground (WIG)",
	21: "Wing in ground (WIG), Hazardous category A",
	22: "Wing in ground (WIG), Hazardous category B",
	23: "Wing in ground (WIG), Hazardous category C",
	24: "Wing in ground (WIG), Hazardous category D",
	30: "Fishing",
	31: "Towing",
	32: "Towing: length exceeds 200m or breadth exceeds 25m",
	33: "Dredging or underwater ops",
	34: "Diving ops",
	35: "Military ops",
	36: "Sailing",
	37: "Pleasure Craft",
	40: "High speed craft (HSC)",
	41: "High speed craft (HSC), Hazardous category A",
	42: "High speed craft (HSC), Hazardous category B",
	43: "High speed craft (HSC), Hazardous category C",
	44: "High speed craft (HSC), Hazardous category D",
	50: "Pilot Vessel",
	51: "Search and Rescue vessel",
	52: "Tug",
	53: "Port Tender",
	54: "Anti-pollution equipment",
	55: "Law Enforcement",
	58: "Medical Transport",
	59: "Noncombatant ship according to RR Resolution No. 18",
	60: "Passenger",
	61: "Passenger, Hazardous category A",
	62: "Passenger, Hazardous category B",
	63: "Passenger, Hazardous category C",
	64: "Passenger, Hazardous category D",
	70: "Cargo",
	71: "Cargo, Hazardous category A",
	72: "Cargo, Hazardous category B",
	73: "Cargo, Hazardous category C",
	74: "Cargo, Hazardous category D",
	80: "Tanker",
	81: "Tanker, Hazardous category A",
	82: "Tanker, Hazardous category B",
	83: "Tanker, Hazardous category C",
	84: "Tanker, Hazardous category D",
	90: "Other Type",
	91: "Other Type, Hazardous category A",
	92: "Other Type, Hazardous category B",
	93: "Other Type, Hazardous category C",
	94: "Other Type, Hazardous category D",
}
